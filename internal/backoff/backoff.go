package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Expo implements jittered exponential backoff. The attempt counter starts
// below zero so the first few failures retry almost immediately.
type Expo struct {
	mu         sync.Mutex
	attempts   int
	maxSeconds float64
}

func NewExpo(maxSeconds float64) *Expo {
	return &Expo{attempts: -3, maxSeconds: maxSeconds}
}

func (b *Expo) Reset() {
	b.mu.Lock()
	b.attempts = -3
	b.mu.Unlock()
}

// NextDelay advances the attempt counter and returns the next delay.
func (b *Expo) NextDelay() time.Duration {
	b.mu.Lock()
	b.attempts++
	delay := math.Pow(2, float64(b.attempts))
	b.mu.Unlock()

	if delay > b.maxSeconds {
		delay = b.maxSeconds
	}
	delay *= 0.5 + rand.Float64()

	return time.Duration(delay * float64(time.Second))
}

// More logs the error and sleeps for the next backoff delay, honoring ctx.
func (b *Expo) More(ctx context.Context, err error) {
	delay := b.NextDelay()
	log.Errorf("backing off %.2f seconds: %s", delay.Seconds(), err)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
