package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpo_DelayGrowsToCap(t *testing.T) {
	b := NewExpo(2)

	var prev time.Duration
	for i := 0; i < 12; i++ {
		d := b.NextDelay()
		// jitter factor is 0.5..1.5, cap is 2s
		assert.LessOrEqual(t, d, 3*time.Second)
		if i > 4 && d < prev/4 {
			t.Fatalf("delay collapsed unexpectedly: prev=%s next=%s", prev, d)
		}
		prev = d
	}
}

func TestExpo_FirstDelaysAreSmall(t *testing.T) {
	b := NewExpo(120)

	// attempts start at -3, so the first delay is at most 2^-2 * 1.5
	d := b.NextDelay()
	assert.Less(t, d, time.Second)
}

func TestExpo_Reset(t *testing.T) {
	b := NewExpo(120)
	for i := 0; i < 10; i++ {
		b.NextDelay()
	}
	b.Reset()

	d := b.NextDelay()
	assert.Less(t, d, time.Second, "reset should restart from the small delays")
}

func TestExpo_MoreHonorsContext(t *testing.T) {
	b := NewExpo(120)
	for i := 0; i < 10; i++ {
		b.NextDelay() // wind up to a long delay
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	b.More(ctx, errors.New("stream closed"))
	require.Less(t, time.Since(start), time.Second, "cancelled context must not sleep")
}

func TestErrorTracker_NoNotifyBeforeEightAttempts(t *testing.T) {
	notified := 0
	tr := NewErrorTracker(func(kind string) { notified++ })

	for i := 0; i < 7; i++ {
		tr.Attempt("server")
		tr.AddError("server")
	}
	assert.Zero(t, notified)
}

func TestErrorTracker_NotifiesOnPersistentFailure(t *testing.T) {
	var kinds []string
	tr := NewErrorTracker(func(kind string) { kinds = append(kinds, kind) })

	for i := 0; i < 8; i++ {
		tr.Attempt("webcam")
		tr.AddError("webcam")
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, "webcam", kinds[0])
}

func TestErrorTracker_LowErrorRateStaysQuiet(t *testing.T) {
	notified := 0
	tr := NewErrorTracker(func(kind string) { notified++ })

	// 20 attempts, 4 errors: 20% is under the 25% floor
	for i := 0; i < 20; i++ {
		tr.Attempt("server")
	}
	for i := 0; i < 4; i++ {
		tr.AddError("server")
	}
	assert.Zero(t, notified)
}

func TestErrorTracker_SnapshotCopies(t *testing.T) {
	tr := NewErrorTracker(nil)
	tr.Attempt("webcam")
	tr.AddError("webcam")

	snap := tr.Snapshot()
	require.Len(t, snap["webcam"], 1)

	snap["webcam"] = nil
	again := tr.Snapshot()
	assert.Len(t, again["webcam"], 1)
}
