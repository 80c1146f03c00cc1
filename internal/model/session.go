package model

import "time"

// SessionResult records one prediction received while a session was running.
type SessionResult struct {
	Timestamp  time.Time
	Target     Label
	Predicted  Label
	IsCorrect  bool
	Confidence float64
}

// SessionSummary captures a finished practice session.
// Accuracy and AvgConfidence are nil when no samples were collected.
type SessionSummary struct {
	ID            string
	Username      string
	Sign          Label
	SampleCount   int
	CorrectCount  int
	Accuracy      *float64
	AvgConfidence *float64
	StartedAt     time.Time
	EndedAt       time.Time
	Results       []SessionResult
}

// HasSamples reports whether any prediction was collected.
func (s SessionSummary) HasSamples() bool {
	return s.SampleCount > 0
}

// Duration returns the wall time covered by the session.
func (s SessionSummary) Duration() time.Duration {
	if s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
