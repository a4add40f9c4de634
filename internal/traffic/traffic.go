// Package traffic keeps sliding windows of request outcomes. The health
// handler reads them to decide between healthy, degraded and overloaded.
package traffic

import (
	"sync"
	"time"
)

// Outcome is how a request ended.
type Outcome int

const (
	Success Outcome = iota
	// Failure is an upstream or cache failure surfaced to the caller.
	Failure
	// Denied is a rate-limit rejection.
	Denied
)

const defaultMaxAge = 5 * time.Minute

// Window is the outcome count within one window.
type Window struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Denied    int `json:"denied"`
}

// Total counts every outcome, denials included.
func (w Window) Total() int { return w.Successes + w.Failures + w.Denied }

// FailurePct is the share of failures among answered requests. Denials are excluded.
func (w Window) FailurePct() float64 {
	answered := w.Successes + w.Failures
	if answered == 0 {
		return 0
	}
	return float64(w.Failures) * 100 / float64(answered)
}

// DeniedPct is the share of denials among all outcomes.
func (w Window) DeniedPct() float64 {
	if w.Total() == 0 {
		return 0
	}
	return float64(w.Denied) * 100 / float64(w.Total())
}

// Tracker records outcome timestamps and forgets those older than maxAge.
type Tracker struct {
	mu     sync.Mutex
	maxAge time.Duration
	now    func() time.Time
	times  [3][]time.Time
}

// NewTracker returns a Tracker retaining maxAge of history (5m when <= 0).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Record appends one outcome.
func (t *Tracker) Record(o Outcome) {
	if t == nil || o < Success || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Counts returns the outcomes recorded within window of now.
func (t *Tracker) Counts(window time.Duration) Window {
	if t == nil {
		return Window{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Window{
		Successes: countSince(t.times[Success], cutoff),
		Failures:  countSince(t.times[Failure], cutoff),
		Denied:    countSince(t.times[Denied], cutoff),
	}
}

// Reset forgets everything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = [3][]time.Time{}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Slices are append-ordered.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	for k, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[k] = append(times[:0], times[i:]...)
		}
	}
}
