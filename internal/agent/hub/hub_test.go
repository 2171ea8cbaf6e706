package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(tag byte) *Frame {
	return &Frame{Data: []byte{tag}, CapturedAt: time.Now()}
}

func TestHub_DeliversToSubscriber(t *testing.T) {
	h := New()
	h.Start(context.Background())
	defer h.Stop()

	ch, cancel := h.Subscribe("uploader")
	defer cancel()

	h.Publish(frame(1))

	select {
	case f := <-ch:
		assert.Equal(t, []byte{1}, f.Data)
		assert.Equal(t, uint64(1), f.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestHub_InboxOverwriteCountsDrop(t *testing.T) {
	h := New()
	// not started: frames pile up in the inbox slot
	h.Publish(frame(1))
	h.Publish(frame(2))
	h.Publish(frame(3))

	s := h.Stats()
	assert.Equal(t, uint64(3), s.Published)
	assert.Equal(t, uint64(2), s.Dropped)
}

func TestHub_SlowSubscriberGetsFreshest(t *testing.T) {
	h := New()
	h.Start(context.Background())
	defer h.Stop()

	ch, cancel := h.Subscribe("mjpeg")
	defer cancel()

	h.Publish(frame(1))
	// wait for delivery so the channel buffer is occupied
	require.Eventually(t, func() bool { return h.Stats().Delivered >= 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(frame(2))
	h.Publish(frame(3))

	// the burst must collapse to the freshest frame without blocking
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-ch:
			if f.Data[0] == 3 {
				return
			}
		case <-deadline:
			t.Fatal("freshest frame never arrived")
		}
	}
}

func TestHub_Latest(t *testing.T) {
	h := New()
	h.Start(context.Background())
	defer h.Stop()

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.Publish(frame(9))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, ok := h.Latest(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, []byte{9}, f.Data)
}

func TestHub_LatestTimesOut(t *testing.T) {
	h := New()
	h.Start(context.Background())
	defer h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, ok := h.Latest(ctx, 0)
	assert.False(t, ok)
}

func TestHub_StopIdempotent(t *testing.T) {
	h := New()
	h.Start(context.Background())
	h.Stop()
	h.Stop()
}
