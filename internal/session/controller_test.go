package session

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/verte-zerg/signdrill/internal/gesture"
	"github.com/verte-zerg/signdrill/internal/model"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type fixedPicker model.Label

func (p fixedPicker) Next() model.Label { return model.Label(p) }

func newTestController(flush bool) (*Controller, *fakeClock, *[]model.SessionSummary) {
	clock := newFakeClock()
	var finished []model.SessionSummary
	c := NewController(Options{
		FlushOnStop: flush,
		Clock:       clock,
		OnFinish: func(sum model.SessionSummary) {
			finished = append(finished, sum)
		},
	})
	return c, clock, &finished
}

func pred(label model.Label, conf float64) model.Prediction {
	return model.Prediction{Label: label, Confidence: conf}
}

func TestSessionAccuracySeventyPercent(t *testing.T) {
	c, clock, finished := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	run, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 30 * time.Second})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.ID == "" || run.Sign != "A" {
		t.Fatalf("unexpected run %+v", run)
	}
	labels := []model.Label{"A", "a", "A", "B", "A", "A", "B", "a", "A", "B"}
	for _, l := range labels {
		clock.Advance(time.Second)
		if !c.OnPrediction(pred(l, 0.8)) {
			t.Fatalf("prediction must be recorded while running")
		}
	}
	clock.Advance(20 * time.Second)

	if c.State() != StateFinished {
		t.Fatalf("expected finished, got %s", c.State())
	}
	if len(*finished) != 1 {
		t.Fatalf("expected one summary, got %d", len(*finished))
	}
	sum := (*finished)[0]
	if sum.SampleCount != 10 || sum.CorrectCount != 7 {
		t.Fatalf("unexpected counts %d/%d", sum.CorrectCount, sum.SampleCount)
	}
	if sum.Accuracy == nil || math.Abs(*sum.Accuracy-70) > 1e-9 {
		t.Fatalf("expected 70%% accuracy, got %v", sum.Accuracy)
	}
	if sum.AvgConfidence == nil || math.Abs(*sum.AvgConfidence-0.8) > 1e-9 {
		t.Fatalf("expected 0.8 confidence, got %v", sum.AvgConfidence)
	}
	if sum.Duration() != 30*time.Second {
		t.Fatalf("expected 30s session, got %v", sum.Duration())
	}
	if c.OnPrediction(pred("A", 1)) {
		t.Fatalf("prediction after finish must be ignored")
	}
}

func TestSessionWithoutSamples(t *testing.T) {
	c, clock, finished := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("C"))
	if _, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 5 * time.Second}); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(5 * time.Second)
	if len(*finished) != 1 {
		t.Fatalf("expected a summary")
	}
	sum := (*finished)[0]
	if sum.HasSamples() || sum.Accuracy != nil || sum.AvgConfidence != nil {
		t.Fatalf("expected no-samples summary, got %+v", sum)
	}
	if Describe(sum) != NoSamplesMessage {
		t.Fatalf("unexpected description %q", Describe(sum))
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	c, clock, _ := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	first, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 10 * time.Second})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	c.OnPrediction(pred("A", 0.9))
	clock.Advance(3 * time.Second)

	second, err := c.Start(Params{Username: "other", Prompt: prompt, Duration: time.Minute})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.ID != first.ID || second.Username != "sam" {
		t.Fatalf("expected active run, got %+v", second)
	}
	snap := c.Snapshot()
	if snap.State != StateRunning || len(snap.Results) != 1 {
		t.Fatalf("start while running must not reset: %+v", snap)
	}
	if snap.Remaining != 7*time.Second {
		t.Fatalf("expected 7s remaining, got %v", snap.Remaining)
	}
}

func TestPromptChangeDoesNotReset(t *testing.T) {
	c, clock, finished := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	if _, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 10 * time.Second}); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.OnPrediction(pred("A", 0.9))
	prompt.Set("B")
	c.OnPrediction(pred("B", 0.7))
	c.OnPrediction(pred("A", 0.6))
	clock.Advance(10 * time.Second)

	sum := (*finished)[0]
	if sum.SampleCount != 3 || sum.CorrectCount != 2 {
		t.Fatalf("unexpected counts %d/%d", sum.CorrectCount, sum.SampleCount)
	}
	if sum.Sign != "A" || sum.Results[1].Target != "B" {
		t.Fatalf("unexpected targets %+v", sum.Results)
	}
}

func TestStopDiscardsByDefault(t *testing.T) {
	c, clock, finished := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	if _, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 10 * time.Second}); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.OnPrediction(pred("A", 0.9))
	if _, ok := c.Stop(); ok {
		t.Fatalf("expected discarded session")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	clock.Advance(time.Minute)
	if len(*finished) != 0 {
		t.Fatalf("stopped session must not finish later")
	}
}

func TestStopFlushesWhenConfigured(t *testing.T) {
	c, clock, finished := newTestController(true)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	if _, err := c.Start(Params{Username: "sam", Prompt: prompt, Duration: 10 * time.Second}); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.OnPrediction(pred("A", 0.9))
	c.OnPrediction(pred("B", 0.5))
	clock.Advance(4 * time.Second)
	sum, ok := c.Stop()
	if !ok || sum.SampleCount != 2 || *sum.Accuracy != 50 {
		t.Fatalf("unexpected flushed summary %+v", sum)
	}
	if c.State() != StateIdle || len(*finished) != 1 {
		t.Fatalf("expected idle with one delivered summary")
	}
	clock.Advance(time.Minute)
	if len(*finished) != 1 {
		t.Fatalf("timer must be cancelled on stop")
	}
}

func TestRestartAfterFinishClearsResults(t *testing.T) {
	c, clock, finished := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	params := Params{Username: "sam", Prompt: prompt, Duration: time.Second}
	if _, err := c.Start(params); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.OnPrediction(pred("A", 0.9))
	clock.Advance(time.Second)
	if _, err := c.Start(params); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if snap := c.Snapshot(); snap.State != StateRunning || len(snap.Results) != 0 {
		t.Fatalf("expected fresh run, got %+v", snap)
	}
	clock.Advance(time.Second)
	if len(*finished) != 2 || (*finished)[1].HasSamples() {
		t.Fatalf("expected second empty summary")
	}
}

func TestStartValidation(t *testing.T) {
	c, _, _ := newTestController(false)
	prompt := gesture.NewPrompt(fixedPicker("A"))
	cases := []Params{
		{Username: " ", Prompt: prompt, Duration: time.Second},
		{Username: "sam", Duration: time.Second},
		{Username: "sam", Prompt: prompt},
		{Username: "sam", Prompt: gesture.NewPrompt(fixedPicker(model.Unknown)), Duration: time.Second},
	}
	for _, p := range cases {
		if _, err := c.Start(p); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", p, err)
		}
	}
	if c.State() != StateIdle {
		t.Fatalf("invalid start must leave controller idle")
	}
}

func TestEndOutsideRunning(t *testing.T) {
	c, _, _ := newTestController(false)
	if _, ok := c.End(); ok {
		t.Fatalf("end while idle must report false")
	}
	if _, ok := c.Stop(); ok {
		t.Fatalf("stop while idle must report false")
	}
}
