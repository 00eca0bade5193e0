package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a new ETA sample against the previous estimate.
const etaSmoothing = 0.3

// Tracker accumulates progress events and derives rate and ETA.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	start   time.Time
	last    ProgressEvent
	lastETA time.Duration
	failed  error
}

// Stats is a snapshot of a Tracker.
type Stats struct {
	ProgressEvent
	Fraction float64 // 0..1, 0 when the total is unknown
	Rate     float64 // issues per second
	ETA      time.Duration
	Elapsed  time.Duration
	Err      error
}

// NewTracker starts a tracker at the current time.
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now, start: now()}
}

// Update records the latest event.
func (t *Tracker) Update(ev ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ev
}

// Fail records err.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = err
}

// Stats returns a snapshot. The ETA is smoothed across calls.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.start)
	s := Stats{ProgressEvent: t.last, Elapsed: elapsed, Err: t.failed}
	if elapsed > 0 {
		s.Rate = float64(t.last.Issues) / elapsed.Seconds()
	}
	if t.last.Total <= 0 {
		return s
	}

	s.Fraction = min(float64(t.last.Issues)/float64(t.last.Total), 1)
	if s.Fraction <= 0 || s.Fraction >= 1 {
		return s
	}
	raw := time.Duration(float64(elapsed)/s.Fraction) - elapsed
	if t.lastETA > 0 {
		raw = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.lastETA))
	}
	t.lastETA = raw
	s.ETA = raw
	return s
}
