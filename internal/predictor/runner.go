package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/verte-zerg/signdrill/internal/model"
)

const (
	commandBuffer = 4
	eventBuffer   = 16
)

type handler interface {
	load(ctx context.Context) error
	predict(ctx context.Context, frame *model.Frame, target model.Label) (model.Prediction, error)
}

type commandKind int

const (
	cmdLoad commandKind = iota
	cmdPredict
)

type command struct {
	kind   commandKind
	frame  *model.Frame
	target model.Label
}

// Stats counts completed work.
type Stats struct {
	Predictions uint64
	Failures    uint64
	Rejected    uint64
}

// runner executes commands one at a time on its own goroutine.
type runner struct {
	name   string
	impl   handler
	logger *slog.Logger
	cmds   chan command
	events chan Event

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	predictions atomic.Uint64
	failures    atomic.Uint64
	rejected    atomic.Uint64
}

func newRunner(name string, impl handler, logger *slog.Logger) *runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &runner{
		name:   name,
		impl:   impl,
		logger: logger.With("backend", name),
		cmds:   make(chan command, commandBuffer),
		events: make(chan Event, eventBuffer),
	}
}

// Start launches the command loop.
func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return fmt.Errorf("%s backend already started", r.name)
	}
	cctx, cancel := context.WithCancel(ctx)
	r.started = true
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(cctx)
	return nil
}

func (r *runner) loop(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.events)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.cmds:
			r.exec(ctx, cmd)
		}
	}
}

func (r *runner) exec(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdLoad:
		if err := r.impl.load(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.emit(ctx, Event{Kind: EventModelError, Err: err})
			return
		}
		r.emit(ctx, Event{Kind: EventModelLoaded})
	case cmdPredict:
		pred, err := r.safePredict(ctx, cmd)
		if err != nil {
			r.failures.Add(1)
			r.logger.Warn("prediction failed", "seq", cmd.frame.Seq, "err", err)
			r.emit(ctx, Event{Kind: EventPredictionError, Err: err, FrameSeq: cmd.frame.Seq})
			return
		}
		r.predictions.Add(1)
		r.emit(ctx, Event{Kind: EventPrediction, Prediction: pred, FrameSeq: cmd.frame.Seq})
	}
}

// safePredict converts panics and plain errors into ErrPrediction so one bad frame
// never takes the loop down.
func (r *runner) safePredict(ctx context.Context, cmd command) (pred model.Prediction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrPrediction, rec)
		}
	}()
	pred, err = r.impl.predict(ctx, cmd.frame, cmd.target)
	if err != nil && !errors.Is(err, ErrPrediction) {
		err = fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	return pred, err
}

func (r *runner) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (r *runner) send(cmd command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		r.rejected.Add(1)
		return false
	}
	select {
	case r.cmds <- cmd:
		return true
	default:
		r.rejected.Add(1)
		return false
	}
}

// LoadModel implements Backend.
func (r *runner) LoadModel() bool {
	return r.send(command{kind: cmdLoad})
}

// Predict implements Backend.
func (r *runner) Predict(frame *model.Frame, target model.Label) bool {
	if frame == nil {
		return false
	}
	return r.send(command{kind: cmdPredict, frame: frame, target: target})
}

// Events implements Backend. The channel is closed after Stop.
func (r *runner) Events() <-chan Event {
	return r.events
}

// Stop ends the command loop. It is safe to call more than once.
func (r *runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	return nil
}

// Stats returns counters since start.
func (r *runner) Stats() Stats {
	return Stats{
		Predictions: r.predictions.Load(),
		Failures:    r.failures.Load(),
		Rejected:    r.rejected.Load(),
	}
}
