package backoff

import (
	"sync"
	"time"
)

// ErrorTracker counts connection attempts and failures per error kind and
// decides when a failure pattern is persistent enough to surface to the
// operator. Transient flakiness never notifies: a kind needs at least 8
// attempts, and the error rate must stay above 50% early on (below 10
// attempts) or 25% after that.
type ErrorTracker struct {
	mu       sync.Mutex
	attempts map[string]int
	errors   map[string][]time.Time

	// Notify is called with the error kind when the thresholds trip.
	Notify func(kind string)
}

func NewErrorTracker(notify func(kind string)) *ErrorTracker {
	return &ErrorTracker{
		attempts: make(map[string]int),
		errors:   make(map[string][]time.Time),
		Notify:   notify,
	}
}

func (t *ErrorTracker) Attempt(kind string) {
	t.mu.Lock()
	t.attempts[kind]++
	t.mu.Unlock()
}

func (t *ErrorTracker) AddError(kind string) {
	t.mu.Lock()
	t.errors[kind] = append(t.errors[kind], time.Now().UTC())
	attempts := t.attempts[kind]
	errs := len(t.errors[kind])
	t.mu.Unlock()

	if !notifiable(attempts, errs) {
		return
	}
	if t.Notify != nil {
		t.Notify(kind)
	}
}

func notifiable(attempts, errs int) bool {
	if attempts < 8 {
		return false
	}
	if attempts < 10 && float64(errs) < float64(attempts)*0.5 {
		return false
	}
	return float64(errs) >= float64(attempts)*0.25
}

// Snapshot returns the recorded error timestamps per kind.
func (t *ErrorTracker) Snapshot() map[string][]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][]time.Time, len(t.errors))
	for k, v := range t.errors {
		out[k] = append([]time.Time(nil), v...)
	}
	return out
}
