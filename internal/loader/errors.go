package loader

import "errors"

// Load error kinds. They are terminal for a loader until Reset is called.
var (
	ErrLoadTimeout   = errors.New("model load timed out")
	ErrLoadNetwork   = errors.New("model asset fetch failed")
	ErrLoadMalformed = errors.New("model asset malformed")
)
