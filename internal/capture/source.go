// Package capture provides non-blocking access to the latest camera frame.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

// ErrNotReady is returned while a source has not produced its first frame.
var ErrNotReady = errors.New("capture stream not ready")

// Source is a live frame stream. Poll never blocks and never returns a frame twice.
type Source interface {
	Start(ctx context.Context) error
	Poll() (*model.Frame, bool)
	Ready() error
	Stop() error
	Stats() Stats
}

// Stats is a snapshot of source counters.
type Stats struct {
	Published   uint64
	Polled      uint64
	Overwritten uint64
	LastFrameAt time.Time
	Running     bool
}

// Kinds of sources selectable from configuration.
const (
	KindCamera = "camera"
	KindDir    = "dir"
)

// Options selects and configures a source.
type Options struct {
	Kind        string
	Device      string
	InputFormat string
	Width       int
	Height      int
	FPS         int
	Dir         string
	FFmpegPath  string
	Logger      *slog.Logger
}

// New builds the source named by opts.Kind.
func New(opts Options) (Source, error) {
	switch opts.Kind {
	case "", KindCamera:
		return NewFFmpegCamera(opts), nil
	case KindDir:
		if opts.Dir == "" {
			return nil, fmt.Errorf("capture dir is required for the %q source", KindDir)
		}
		return NewDirSource(opts.Dir, opts.FPS, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", opts.Kind)
	}
}
