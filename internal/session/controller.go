// Package session runs fixed-duration practice sessions and summarizes their results.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/signdrill/internal/gesture"
	"github.com/verte-zerg/signdrill/internal/model"
)

// ErrValidation reports missing or invalid session input.
var ErrValidation = errors.New("validation error")

// DefaultDuration is the practice session length.
const DefaultDuration = 30 * time.Second

// NoSamplesMessage is shown for a session that collected no predictions.
const NoSamplesMessage = "No gestures detected"

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Params describes a session to start.
type Params struct {
	Username string
	Prompt   *gesture.Prompt
	Duration time.Duration
}

// Run is the context of one active session. It exists from Start until the session
// ends or is stopped.
type Run struct {
	ID        string
	Username  string
	Sign      model.Label
	Prompt    *gesture.Prompt
	StartedAt time.Time
	Duration  time.Duration
}

// Options configures a Controller.
type Options struct {
	// FlushOnStop produces a summary from partial results on Stop instead of
	// discarding them.
	FlushOnStop bool
	Clock       Clock
	// OnFinish receives every produced summary. It is called without locks held.
	OnFinish func(model.SessionSummary)
	Logger   *slog.Logger
}

// Snapshot is a consistent copy of controller state for readers.
type Snapshot struct {
	State     State
	Run       *Run
	Results   []model.SessionResult
	Correct   int
	Remaining time.Duration
}

// Controller is the session state machine.
type Controller struct {
	flushOnStop bool
	clock       Clock
	onFinish    func(model.SessionSummary)
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	run     *Run
	results []model.SessionResult
	timer   Timer
	gen     uint64
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		flushOnStop: opts.FlushOnStop,
		clock:       clock,
		onFinish:    opts.OnFinish,
		logger:      logger,
	}
}

func (p Params) validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if p.Prompt == nil {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if !p.Prompt.Current().IsLetter() {
		return fmt.Errorf("%w: prompt must be a letter", ErrValidation)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrValidation)
	}
	return nil
}

// Start begins a session. While a session is running it is a no-op that returns the
// active run.
func (c *Controller) Start(p Params) (Run, error) {
	if err := p.validate(); err != nil {
		return Run{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return *c.run, nil
	}
	now := c.clock.Now()
	run := &Run{
		ID:        uuid.NewString(),
		Username:  strings.TrimSpace(p.Username),
		Sign:      p.Prompt.Current(),
		Prompt:    p.Prompt,
		StartedAt: now,
		Duration:  p.Duration,
	}
	c.results = nil
	c.run = run
	c.state = StateRunning
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(p.Duration, func() { c.expire(gen) })
	c.logger.Info("session started", "id", run.ID, "user", run.Username, "sign", run.Sign, "duration", p.Duration)
	return *run, nil
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if c.state != StateRunning || c.gen != gen {
		c.mu.Unlock()
		return
	}
	sum := c.finishLocked(StateFinished)
	c.mu.Unlock()
	c.deliver(sum)
}

// OnPrediction records a prediction against the prompt current at this instant.
// It reports whether the prediction was recorded.
func (c *Controller) OnPrediction(pred model.Prediction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return false
	}
	target := c.run.Prompt.Current()
	ts := pred.Timestamp
	if ts.IsZero() {
		ts = c.clock.Now()
	}
	c.results = append(c.results, model.SessionResult{
		Timestamp:  ts,
		Target:     target,
		Predicted:  pred.Label,
		IsCorrect:  gesture.Match(pred, target),
		Confidence: pred.Confidence,
	})
	return true
}

// End finishes the running session and returns its summary.
func (c *Controller) End() (model.SessionSummary, bool) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return model.SessionSummary{}, false
	}
	sum := c.finishLocked(StateFinished)
	c.mu.Unlock()
	c.deliver(sum)
	return sum, true
}

// Stop cancels the running session and returns to Idle. Partial results are
// summarized only when FlushOnStop is set.
func (c *Controller) Stop() (model.SessionSummary, bool) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return model.SessionSummary{}, false
	}
	if !c.flushOnStop {
		c.logger.Info("session discarded", "id", c.run.ID, "samples", len(c.results))
		c.stopTimerLocked()
		c.state = StateIdle
		c.run = nil
		c.results = nil
		c.mu.Unlock()
		return model.SessionSummary{}, false
	}
	sum := c.finishLocked(StateIdle)
	c.mu.Unlock()
	c.deliver(sum)
	return sum, true
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) finishLocked(next State) model.SessionSummary {
	c.stopTimerLocked()
	sum := Summarize(*c.run, c.results, c.clock.Now())
	c.state = next
	c.run = nil
	c.logger.Info("session ended",
		"id", sum.ID,
		"sign", sum.Sign,
		"samples", sum.SampleCount,
		"correct", sum.CorrectCount)
	return sum
}

func (c *Controller) deliver(sum model.SessionSummary) {
	if c.onFinish != nil {
		c.onFinish(sum)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state}
	if len(c.results) > 0 {
		snap.Results = make([]model.SessionResult, len(c.results))
		copy(snap.Results, c.results)
	}
	for _, r := range c.results {
		if r.IsCorrect {
			snap.Correct++
		}
	}
	if c.run != nil {
		run := *c.run
		snap.Run = &run
		remaining := run.Duration - c.clock.Now().Sub(run.StartedAt)
		if remaining < 0 {
			remaining = 0
		}
		snap.Remaining = remaining
	}
	return snap
}

// Summarize aggregates results into a summary. Accuracy and average confidence are
// left nil when there are no results.
func Summarize(run Run, results []model.SessionResult, endedAt time.Time) model.SessionSummary {
	sum := model.SessionSummary{
		ID:          run.ID,
		Username:    run.Username,
		Sign:        run.Sign,
		SampleCount: len(results),
		StartedAt:   run.StartedAt,
		EndedAt:     endedAt,
		Results:     make([]model.SessionResult, len(results)),
	}
	copy(sum.Results, results)
	if len(results) == 0 {
		return sum
	}
	confSum := 0.0
	for _, r := range results {
		if r.IsCorrect {
			sum.CorrectCount++
		}
		confSum += r.Confidence
	}
	accuracy := 100 * float64(sum.CorrectCount) / float64(len(results))
	avg := confSum / float64(len(results))
	sum.Accuracy = &accuracy
	sum.AvgConfidence = &avg
	return sum
}

// Describe returns a one-line human summary.
func Describe(sum model.SessionSummary) string {
	if !sum.HasSamples() {
		return NoSamplesMessage
	}
	return fmt.Sprintf("%s: %.1f%% accuracy over %d samples, avg confidence %.2f",
		sum.Sign, *sum.Accuracy, sum.SampleCount, *sum.AvgConfidence)
}
