package hub

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured webcam image. Data is shared by reference between
// subscribers and must not be modified after Publish.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
	Seq        uint64
}

// Stats are cumulative counters for the hub.
type Stats struct {
	Published uint64
	Dropped   uint64
	Delivered uint64
}

// Hub fans the freshest frame out to subscribers. The inbox is a single
// slot: a new frame overwrites an unconsumed one and the overwrite counts
// as a drop. Publishers never block. Each subscriber has a one-frame
// buffered channel with drop-oldest delivery, so a slow MJPEG client or
// uploader only ever loses staleness, not liveness.
type Hub struct {
	mu    sync.Mutex
	cond  *sync.Cond
	inbox *Frame

	subs sync.Map // id -> chan *Frame

	published uint64
	dropped   uint64
	delivered uint64
	seq       uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New() *Hub {
	h := &Hub{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Start spawns the distribution loop. Second and later calls are no-ops.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	h.wg.Add(1)
	go h.distribute()
}

// Stop shuts the distribution loop down and waits for it. Idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.cancel()
	h.cond.Broadcast()
	h.wg.Wait()
}

// Publish places a frame in the inbox, overwriting any unconsumed frame.
// Never blocks.
func (h *Hub) Publish(f *Frame) {
	h.mu.Lock()
	if h.inbox != nil {
		atomic.AddUint64(&h.dropped, 1)
	}
	h.inbox = f
	atomic.AddUint64(&h.published, 1)
	h.mu.Unlock()
	h.cond.Signal()
}

// Subscribe registers a consumer. The returned channel carries the newest
// frames; the unsubscribe func must be called when done.
func (h *Hub) Subscribe(id string) (<-chan *Frame, func()) {
	ch := make(chan *Frame, 1)
	h.subs.Store(id, ch)
	return ch, func() { h.subs.Delete(id) }
}

// Latest blocks until a frame newer than afterSeq arrives or ctx ends.
func (h *Hub) Latest(ctx context.Context, afterSeq uint64) (*Frame, bool) {
	sub, cancel := h.Subscribe(randomSubId())
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case f, ok := <-sub:
			if !ok {
				return nil, false
			}
			if f.Seq > afterSeq {
				return f, true
			}
		}
	}
}

func (h *Hub) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&h.published),
		Dropped:   atomic.LoadUint64(&h.dropped),
		Delivered: atomic.LoadUint64(&h.delivered),
	}
}

func (h *Hub) distribute() {
	defer h.wg.Done()

	for {
		h.mu.Lock()
		for h.inbox == nil && h.ctx.Err() == nil {
			h.cond.Wait()
		}
		if h.ctx.Err() != nil {
			h.mu.Unlock()
			return
		}
		f := h.inbox
		h.inbox = nil
		h.mu.Unlock()

		f.Seq = atomic.AddUint64(&h.seq, 1)

		h.subs.Range(func(_, value any) bool {
			ch := value.(chan *Frame)
			for {
				select {
				case ch <- f:
					atomic.AddUint64(&h.delivered, 1)
					return true
				default:
				}
				// drop the stale frame, then retry with the fresh one
				select {
				case <-ch:
					atomic.AddUint64(&h.dropped, 1)
				default:
				}
			}
		})
	}
}

var subCounter uint64

func randomSubId() string {
	return "latest-" + strconv.FormatUint(atomic.AddUint64(&subCounter, 1), 10)
}
