package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/verte-zerg/signdrill/internal/capture"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
)

// Options configures a Driver.
type Options struct {
	Source  capture.Source
	Backend predictor.Backend
	// Target returns the prompt sent along with each frame.
	Target   func() model.Label
	Interval time.Duration
	Poll     time.Duration
	Logger   *slog.Logger
	// OnEvent observes every backend event after the driver has applied it.
	// It runs on the driver goroutine and must not block.
	OnEvent func(predictor.Event)
}

// Stats counts driver activity.
type Stats struct {
	Dispatched uint64
	Dropped    uint64
	Completed  uint64
	Ready      bool
}

// Driver is the periodic loop moving frames from the source to the backend.
// Tick and Handle must be called from a single goroutine; Run does so.
type Driver struct {
	source   capture.Source
	backend  predictor.Backend
	target   func() model.Label
	poll     time.Duration
	logger   *slog.Logger
	onEvent  func(predictor.Event)
	throttle Throttle

	ready      atomic.Bool
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	completed  atomic.Uint64
}

// New creates a driver.
func New(opts Options) *Driver {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	target := opts.Target
	if target == nil {
		target = func() model.Label { return "" }
	}
	return &Driver{
		source:   opts.Source,
		backend:  opts.Backend,
		target:   target,
		poll:     poll,
		logger:   logger,
		onEvent:  opts.OnEvent,
		throttle: Throttle{Interval: interval},
	}
}

// Tick polls the source once and dispatches the frame when the throttle allows.
// A frame that cannot be dispatched is dropped. It reports whether a dispatch happened.
func (d *Driver) Tick(now time.Time) bool {
	frame, ok := d.source.Poll()
	if !ok {
		return false
	}
	if !d.throttle.Allow(now, d.ready.Load()) {
		d.dropped.Add(1)
		return false
	}
	if !d.backend.Predict(frame, d.target()) {
		d.dropped.Add(1)
		return false
	}
	d.throttle.MarkDispatched(now)
	d.dispatched.Add(1)
	return true
}

// Handle applies a backend event.
func (d *Driver) Handle(ev predictor.Event) {
	switch ev.Kind {
	case predictor.EventModelLoaded:
		d.ready.Store(true)
	case predictor.EventModelError:
		d.ready.Store(false)
		d.logger.Error("model unavailable", "err", ev.Err)
	case predictor.EventPredictionError:
		d.logger.Debug("prediction dropped", "seq", ev.FrameSeq, "err", ev.Err)
	}
	if ev.Completes() {
		d.throttle.Complete()
		d.completed.Add(1)
	}
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

// Run drives the loop until ctx is done or the backend closes its events.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	events := d.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.Tick(now)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Handle(ev)
		}
	}
}

// Ready reports whether the backend has a model loaded.
func (d *Driver) Ready() bool {
	return d.ready.Load()
}

// MarkUnready blocks dispatch until the next ModelLoaded event.
func (d *Driver) MarkUnready() {
	d.ready.Store(false)
}

// Stats returns counters since creation.
func (d *Driver) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Completed:  d.completed.Load(),
		Ready:      d.ready.Load(),
	}
}
