// Package scheduler paces frame dispatch from the capture source to a predictor backend.
package scheduler

import "time"

// DefaultInterval is the minimum gap between two dispatches.
const DefaultInterval = 500 * time.Millisecond

// DefaultPoll is the capture polling cadence.
const DefaultPoll = 100 * time.Millisecond

// Throttle gates dispatch on elapsed time, model readiness and a single in-flight request.
type Throttle struct {
	Interval time.Duration

	lastDispatch time.Time
	inFlight     bool
}

// Allow reports whether a frame may be dispatched at now.
func (t *Throttle) Allow(now time.Time, ready bool) bool {
	if !ready || t.inFlight {
		return false
	}
	if t.lastDispatch.IsZero() {
		return true
	}
	return now.Sub(t.lastDispatch) >= t.Interval
}

// MarkDispatched records a dispatch at now and marks a request in flight.
func (t *Throttle) MarkDispatched(now time.Time) {
	t.lastDispatch = now
	t.inFlight = true
}

// Complete clears the in-flight flag.
func (t *Throttle) Complete() {
	t.inFlight = false
}

// InFlight reports whether a request is outstanding.
func (t *Throttle) InFlight() bool {
	return t.inFlight
}

// LastDispatch returns the time of the last dispatch.
func (t *Throttle) LastDispatch() time.Time {
	return t.lastDispatch
}
