// Package predictor runs sign classification off the driver goroutine.
//
// A Backend is reached only through messages: LoadModel and Predict enqueue commands
// on a bounded channel, and results come back on Events. The in-process Worker and the
// Remote client share the same command loop and differ only in how they load and
// predict.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/model"
)

// Prediction error kinds.
var (
	ErrPrediction    = errors.New("prediction failed")
	ErrRemoteService = errors.New("remote prediction service error")
	ErrModelNotReady = errors.New("model is not loaded yet")
)

// Backend variants selectable from configuration.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// EventKind identifies a backend event.
type EventKind int

const (
	EventModelLoaded EventKind = iota + 1
	EventModelError
	EventPrediction
	EventPredictionError
)

func (k EventKind) String() string {
	switch k {
	case EventModelLoaded:
		return "model_loaded"
	case EventModelError:
		return "model_error"
	case EventPrediction:
		return "prediction"
	case EventPredictionError:
		return "prediction_error"
	default:
		return "unknown"
	}
}

// Event is a message emitted by a backend.
type Event struct {
	Kind       EventKind
	Prediction model.Prediction
	Err        error
	FrameSeq   uint64
}

// Completes reports whether the event ends an outstanding Predict.
func (e Event) Completes() bool {
	return e.Kind == EventPrediction || e.Kind == EventPredictionError
}

// Backend is the load/predict capability used by the scheduler.
type Backend interface {
	Start(ctx context.Context) error
	// LoadModel requests a (re)load. It never blocks and reports whether the
	// command was accepted.
	LoadModel() bool
	// Predict hands frame to the backend. It never blocks and reports whether the
	// command was accepted; the caller must not touch frame afterwards.
	Predict(frame *model.Frame, target model.Label) bool
	Events() <-chan Event
	Stop() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Loader  *loader.Loader
	Remote  RemoteOptions
	Logger  *slog.Logger
}

// New builds the backend named by opts.Backend.
func New(opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendLocal:
		if opts.Loader == nil {
			return nil, fmt.Errorf("local backend requires a model loader")
		}
		return NewWorker(opts.Loader, opts.Logger), nil
	case BackendRemote:
		if opts.Remote.URL == "" {
			return nil, fmt.Errorf("remote backend requires a service URL")
		}
		if opts.Remote.Logger == nil {
			opts.Remote.Logger = opts.Logger
		}
		return NewRemote(opts.Remote), nil
	default:
		return nil, fmt.Errorf("unknown predictor backend %q", opts.Backend)
	}
}
