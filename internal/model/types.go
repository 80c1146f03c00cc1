// Package model defines shared data structures.
package model

import "time"

// Config defines practice settings.
type Config struct {
	Username    string
	Duration    time.Duration
	Throttle    time.Duration
	Poll        time.Duration
	FlushOnStop bool
	FocusWeak   bool
	WeakTop     int
	WeakFactor  float64
	WeakWindow  int
	Seed        int64
}

// StatsConfig defines filters and options for stats output.
type StatsConfig struct {
	Username    string
	Sign        string
	Since       *time.Time
	Last        int
	CurveWindow int
}

// SessionAggregate summarizes a stored session for reporting.
type SessionAggregate struct {
	SessionID     int64
	UUID          string
	Username      string
	Sign          string
	EndedAt       time.Time
	SampleCount   int
	CorrectCount  int
	Accuracy      *float64
	AvgConfidence *float64
	DurationMs    int64
}

// Aggregated per-sign stats for selection or reporting.

// SignAggregate aggregates per-frame results for one target sign across sessions.
type SignAggregate struct {
	Sign          string
	Correct       int
	Incorrect     int
	ConfidenceSum float64
}

// Total returns the number of results for the sign.
func (a SignAggregate) Total() int {
	return a.Correct + a.Incorrect
}
