package model

import "time"

// Frame is one encoded image captured from the camera feed.
// Data is owned by whoever holds the frame and is never mutated after capture.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Prediction is a classifier result for one frame.
type Prediction struct {
	Label      Label
	Confidence float64
	Timestamp  time.Time
	FrameSeq   uint64
}
