package detect

import (
	"sync"
	"time"
)

// Alert states, ordered by severity.
const (
	StateOK      = "ok"
	StateWarning = "warning"
	StateAlert   = "alert"
)

// default smoothing factor for the failure score moving average
const defaultAlpha = 0.3

// Decision is the outcome of feeding one prediction to the evaluator.
type Decision struct {
	State       string
	Ewm         float64
	Transition  bool // state changed with this prediction
	ShouldPause bool // pause the print now
}

// Evaluator smooths failure scores with an exponentially weighted moving
// average and maps the smoothed value onto ok/warning/alert. A pause is
// requested at most once per alert episode: after a pause the evaluator
// stays quiet until the cooldown passes, even if the score stays high.
type Evaluator struct {
	mu sync.Mutex

	alpha          float64
	warnThreshold  float64
	alertThreshold float64
	cooldown       time.Duration
	pauseOnAlert   bool

	ewm       float64
	seeded    bool
	state     string
	muted     bool
	lastPause time.Time

	now func() time.Time
}

func NewEvaluator(warnThreshold, alertThreshold float64, cooldown time.Duration, pauseOnAlert bool) *Evaluator {
	return &Evaluator{
		alpha:          defaultAlpha,
		warnThreshold:  warnThreshold,
		alertThreshold: alertThreshold,
		cooldown:       cooldown,
		pauseOnAlert:   pauseOnAlert,
		state:          StateOK,
		now:            time.Now,
	}
}

// Feed folds one failure score into the moving average and returns the
// resulting decision.
func (e *Evaluator) Feed(score float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seeded {
		e.ewm = score
		e.seeded = true
	} else {
		e.ewm = e.alpha*score + (1-e.alpha)*e.ewm
	}

	next := StateOK
	switch {
	case e.ewm >= e.alertThreshold:
		next = StateAlert
	case e.ewm >= e.warnThreshold:
		next = StateWarning
	}

	d := Decision{
		State:      next,
		Ewm:        e.ewm,
		Transition: next != e.state,
	}
	e.state = next

	if next == StateAlert && e.pauseOnAlert && !e.muted {
		if e.lastPause.IsZero() || e.now().Sub(e.lastPause) >= e.cooldown {
			d.ShouldPause = true
			e.lastPause = e.now()
		}
	}

	return d
}

// Mute suppresses pause decisions; scores keep flowing.
func (e *Evaluator) Mute() {
	e.mu.Lock()
	e.muted = true
	e.mu.Unlock()
}

func (e *Evaluator) Unmute() {
	e.mu.Lock()
	e.muted = false
	e.mu.Unlock()
}

func (e *Evaluator) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Reset clears the average and state, for a new print.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.ewm = 0
	e.seeded = false
	e.state = StateOK
	e.lastPause = time.Time{}
	e.mu.Unlock()
}

// State returns the current alert state and smoothed score.
func (e *Evaluator) State() (string, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.ewm
}
