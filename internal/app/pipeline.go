// Package app wires capture, inference, scheduling and sessions into one pipeline
// shared by the terminal UI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/signdrill/internal/capture"
	"github.com/verte-zerg/signdrill/internal/generator"
	"github.com/verte-zerg/signdrill/internal/gesture"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/scheduler"
	"github.com/verte-zerg/signdrill/internal/session"
	"github.com/verte-zerg/signdrill/internal/sink"
	"github.com/verte-zerg/signdrill/internal/stats"
)

// ErrModelFailed is returned when a session is started while the model failed to load.
var ErrModelFailed = errors.New("model failed to load; retry before starting a session")

const saveTimeout = 10 * time.Second

// ModelState is the model readiness seen by the UI.
type ModelState int

const (
	ModelLoading ModelState = iota
	ModelReady
	ModelFailed
)

func (s ModelState) String() string {
	switch s {
	case ModelLoading:
		return "loading"
	case ModelReady:
		return "ready"
	case ModelFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind identifies a pipeline event.
type EventKind int

const (
	EventModel EventKind = iota + 1
	EventPrediction
	EventPredictionError
	EventPrompt
	EventSessionStarted
	EventSessionFinished
	EventSessionStopped
	EventSaveError
)

// Event is delivered to subscribers. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Model      ModelState
	Err        error
	Prediction model.Prediction
	Target     model.Label
	Match      bool
	Prompt     model.Label
	Run        session.Run
	Summary    model.SessionSummary
}

// WeakSigns reports per-sign aggregates over a user's recent sessions.
type WeakSigns interface {
	GetWeakSigns(ctx context.Context, window int, username string) ([]model.SignAggregate, error)
}

// Options configures a Pipeline.
type Options struct {
	Config    model.Config
	Source    capture.Source
	Backend   predictor.Backend
	Sink      sink.Sink
	Weak      WeakSigns
	Generator *generator.Generator
	Clock     session.Clock
	Logger    *slog.Logger
}

// Snapshot is a point-in-time view of the pipeline.
type Snapshot struct {
	Model    ModelState
	ModelErr error
	Prompt   model.Label
	Session  session.Snapshot
	Driver   scheduler.Stats
	Capture  capture.Stats
}

// Pipeline owns every runtime component of a practice setup.
type Pipeline struct {
	cfg        model.Config
	source     capture.Source
	backend    predictor.Backend
	sink       sink.Sink
	weak       WeakSigns
	gen        *generator.Generator
	prompt     *gesture.Prompt
	controller *session.Controller
	driver     *scheduler.Driver
	logger     *slog.Logger

	mu        sync.Mutex
	model     ModelState
	modelErr  error
	observers map[int]func(Event)
	nextObs   int
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	saves     sync.WaitGroup
}

// New assembles a pipeline. Nothing runs until Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Backend == nil {
		return nil, fmt.Errorf("pipeline requires a frame source and a predictor backend")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := opts.Generator
	if gen == nil {
		gen = generator.New()
	}
	cfg := opts.Config
	if cfg.Duration <= 0 {
		cfg.Duration = session.DefaultDuration
	}
	p := &Pipeline{
		cfg:       cfg,
		source:    opts.Source,
		backend:   opts.Backend,
		sink:      opts.Sink,
		weak:      opts.Weak,
		gen:       gen,
		prompt:    gesture.NewPrompt(gen),
		logger:    logger,
		observers: map[int]func(Event){},
	}
	p.controller = session.NewController(session.Options{
		FlushOnStop: cfg.FlushOnStop,
		Clock:       opts.Clock,
		OnFinish:    p.onFinish,
		Logger:      logger,
	})
	p.driver = scheduler.New(scheduler.Options{
		Source:   opts.Source,
		Backend:  opts.Backend,
		Target:   p.prompt.Current,
		Interval: cfg.Throttle,
		Poll:     cfg.Poll,
		Logger:   logger,
		OnEvent:  p.onBackendEvent,
	})
	return p, nil
}

// Subscribe registers fn for every event and returns a function removing it.
// fn runs on the goroutine producing the event and must not block.
func (p *Pipeline) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) emit(ev Event) {
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Start launches capture, the backend and the driver loop and requests a model load.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := p.backend.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start predictor: %w", err)
	}
	if err := p.source.Start(ctx); err != nil {
		cancel()
		if serr := p.backend.Stop(); serr != nil {
			p.logger.Warn("failed to stop predictor", "err", serr)
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}
	p.mu.Lock()
	p.cancel = cancel
	p.model = ModelLoading
	p.mu.Unlock()

	if p.cfg.FocusWeak {
		p.refreshWeakSet(ctx, p.cfg.Username)
	}
	p.backend.LoadModel()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.driver.Run(ctx); err != nil {
			p.logger.Error("driver stopped", "err", err)
		}
	}()
	p.emit(Event{Kind: EventModel, Model: ModelLoading})
	p.emit(Event{Kind: EventPrompt, Prompt: p.prompt.Current()})
	return nil
}

// Close stops everything started by Start. A running session is stopped per the
// flush-on-stop policy.
func (p *Pipeline) Close() error {
	p.controller.Stop()
	defer p.saves.Wait()
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	p.wg.Wait()
	return errors.Join(p.source.Stop(), p.backend.Stop())
}

func (p *Pipeline) onBackendEvent(ev predictor.Event) {
	switch ev.Kind {
	case predictor.EventModelLoaded:
		p.setModel(ModelReady, nil)
		p.emit(Event{Kind: EventModel, Model: ModelReady})
	case predictor.EventModelError:
		p.setModel(ModelFailed, ev.Err)
		p.emit(Event{Kind: EventModel, Model: ModelFailed, Err: ev.Err})
	case predictor.EventPrediction:
		target := p.prompt.Current()
		p.controller.OnPrediction(ev.Prediction)
		p.emit(Event{
			Kind:       EventPrediction,
			Prediction: ev.Prediction,
			Target:     target,
			Match:      gesture.Match(ev.Prediction, target),
		})
	case predictor.EventPredictionError:
		p.emit(Event{Kind: EventPredictionError, Err: ev.Err})
	}
}

func (p *Pipeline) setModel(state ModelState, err error) {
	p.mu.Lock()
	p.model = state
	p.modelErr = err
	p.mu.Unlock()
}

// ModelState returns the current model readiness and the last load error.
func (p *Pipeline) ModelState() (ModelState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model, p.modelErr
}

// StartSession begins a practice session for username on the current prompt.
// It is refused while the model is not ready.
func (p *Pipeline) StartSession(username string) (session.Run, error) {
	if username == "" {
		username = p.cfg.Username
	}
	state, err := p.ModelState()
	switch state {
	case ModelFailed:
		return session.Run{}, fmt.Errorf("%w: %v", ErrModelFailed, err)
	case ModelLoading:
		return session.Run{}, predictor.ErrModelNotReady
	}
	run, err := p.controller.Start(session.Params{
		Username: username,
		Prompt:   p.prompt,
		Duration: p.cfg.Duration,
	})
	if err != nil {
		return session.Run{}, err
	}
	p.emit(Event{Kind: EventSessionStarted, Run: run, Prompt: run.Sign})
	return run, nil
}

// StopSession cancels the running session. With flush-on-stop the summary is
// returned at once and saved in the background; EventSessionFinished follows.
func (p *Pipeline) StopSession() (model.SessionSummary, bool) {
	if p.controller.State() != session.StateRunning {
		return model.SessionSummary{}, false
	}
	sum, ok := p.controller.Stop()
	if !ok {
		p.emit(Event{Kind: EventSessionStopped})
	}
	return sum, ok
}

// NextPrompt draws a new target sign. A running session keeps its results.
func (p *Pipeline) NextPrompt() model.Label {
	next := p.prompt.Next()
	p.emit(Event{Kind: EventPrompt, Prompt: next})
	return next
}

// Prompt returns the current target sign.
func (p *Pipeline) Prompt() model.Label {
	return p.prompt.Current()
}

// RetryModel requests a new load after a failure. It reports false when the model
// is not in the failed state or the backend did not accept the request.
func (p *Pipeline) RetryModel() bool {
	p.mu.Lock()
	if p.model != ModelFailed {
		p.mu.Unlock()
		return false
	}
	p.model = ModelLoading
	p.modelErr = nil
	p.mu.Unlock()

	p.driver.MarkUnready()
	if !p.backend.LoadModel() {
		p.setModel(ModelFailed, fmt.Errorf("predictor busy; retry again"))
		return false
	}
	p.emit(Event{Kind: EventModel, Model: ModelLoading})
	return true
}

// Snapshot returns a copy of the pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	state, err := p.ModelState()
	return Snapshot{
		Model:    state,
		ModelErr: err,
		Prompt:   p.prompt.Current(),
		Session:  p.controller.Snapshot(),
		Driver:   p.driver.Stats(),
		Capture:  p.source.Stats(),
	}
}

// onFinish runs on whichever goroutine ended the session, which for a stop is the
// caller of StopSession. Persisting happens in the background so that caller never
// waits on the sink.
func (p *Pipeline) onFinish(sum model.SessionSummary) {
	p.saves.Add(1)
	go func() {
		defer p.saves.Done()
		p.persist(sum)
	}()
}

func (p *Pipeline) persist(sum model.SessionSummary) {
	if p.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := p.sink.Save(ctx, sum)
		cancel()
		if err != nil {
			p.logger.Error("failed to save session", "id", sum.ID, "err", err)
			p.emit(Event{Kind: EventSaveError, Err: err, Summary: sum})
		}
	}
	p.emit(Event{Kind: EventSessionFinished, Summary: sum})
	if p.cfg.FocusWeak {
		p.refreshWeakSet(context.Background(), sum.Username)
	}
}

func (p *Pipeline) refreshWeakSet(ctx context.Context, username string) {
	if p.weak == nil {
		return
	}
	aggs, err := p.weak.GetWeakSigns(ctx, p.cfg.WeakWindow, username)
	if err != nil {
		p.logger.Warn("failed to load weak signs", "err", err)
		return
	}
	if len(aggs) == 0 {
		p.logger.Info("no stats available for weak-sign focus yet; using uniform prompts")
		p.prompt.SetPicker(p.gen)
		return
	}
	weak := stats.SelectWeakSigns(aggs, p.cfg.WeakTop)
	p.prompt.SetPicker(p.gen.Weighted(weak, p.cfg.WeakFactor))
}
