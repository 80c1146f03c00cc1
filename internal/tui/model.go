// Package tui provides the Bubble Tea practice interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/signdrill/internal/app"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/session"
	statsPkg "github.com/verte-zerg/signdrill/internal/stats"
)

const (
	eventBuffer  = 64
	tickInterval = 200 * time.Millisecond
)

// Practice is the pipeline surface driven by the UI.
type Practice interface {
	Subscribe(fn func(app.Event)) func()
	StartSession(username string) (session.Run, error)
	StopSession() (model.SessionSummary, bool)
	NextPrompt() model.Label
	RetryModel() bool
	Snapshot() app.Snapshot
}

// History provides previously saved sessions for the footer.
type History interface {
	ListSessions(ctx context.Context, cfg model.StatsConfig) ([]model.SessionAggregate, error)
}

type eventMsg app.Event

type tickMsg time.Time

// Model implements the Bubble Tea practice UI.
type Model struct {
	practice    Practice
	history     History
	username    string
	logger      *slog.Logger
	events      chan app.Event
	unsubscribe func()

	width  int
	height int

	modelState app.ModelState
	modelErr   error
	prompt     model.Label
	session    session.Snapshot

	lastPred   *model.Prediction
	lastTarget model.Label
	lastMatch  bool
	predErrors int

	summary *model.SessionSummary
	status  string

	lastAcc  float64
	lastConf float64
	hasLast  bool

	allAcc     float64
	allConf    float64
	allSamples int
	allCorrect int
	allConfSum float64
}

var (
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	incorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel constructs a practice TUI model subscribed to the pipeline's events.
func NewModel(practice Practice, history History, username string, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		practice: practice,
		history:  history,
		username: username,
		logger:   logger,
		events:   make(chan app.Event, eventBuffer),
	}
	m.unsubscribe = practice.Subscribe(m.forward)
	snap := practice.Snapshot()
	m.modelState = snap.Model
	m.modelErr = snap.ModelErr
	m.prompt = snap.Prompt
	m.session = snap.Session
	m.loadFooterStats()
	return m
}

// forward runs on pipeline goroutines, including inside Update, so it must not block.
func (m *Model) forward(ev app.Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("ui event dropped", "kind", ev.Kind)
	}
}

func waitForEvent(ch <-chan app.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case eventMsg:
		m.apply(app.Event(msg))
		return m, waitForEvent(m.events)
	case tickMsg:
		m.session = m.practice.Snapshot().Session
		return m, tick()
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.Type == tea.KeyCtrlC {
		return m.quit()
	}
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return nil
	}
	switch msg.Runes[0] {
	case 'q':
		return m.quit()
	case 's':
		m.startSession()
	case 'x':
		if _, ok := m.practice.StopSession(); !ok && m.session.State != session.StateRunning {
			m.status = "No session running"
		}
	case 'n':
		m.prompt = m.practice.NextPrompt()
	case 'r':
		if !m.practice.RetryModel() {
			m.status = "Model is not in a failed state"
		} else {
			m.status = ""
		}
	}
	m.session = m.practice.Snapshot().Session
	return nil
}

func (m *Model) quit() tea.Cmd {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	return tea.Quit
}

func (m *Model) startSession() {
	_, err := m.practice.StartSession(m.username)
	switch {
	case err == nil:
		m.status = ""
	case errors.Is(err, predictor.ErrModelNotReady):
		m.status = "Model is still loading"
	case errors.Is(err, app.ErrModelFailed):
		m.status = "Model failed to load; press r to retry"
	default:
		m.status = err.Error()
	}
}

func (m *Model) apply(ev app.Event) {
	switch ev.Kind {
	case app.EventModel:
		m.modelState = ev.Model
		m.modelErr = ev.Err
	case app.EventPrompt:
		m.prompt = ev.Prompt
	case app.EventPrediction:
		pred := ev.Prediction
		m.lastPred = &pred
		m.lastTarget = ev.Target
		m.lastMatch = ev.Match
	case app.EventPredictionError:
		m.predErrors++
	case app.EventSessionStarted:
		m.summary = nil
		m.prompt = ev.Prompt
	case app.EventSessionFinished:
		sum := ev.Summary
		m.summary = &sum
		m.recordSummary(sum)
	case app.EventSessionStopped:
		m.status = "Session discarded"
	case app.EventSaveError:
		m.status = fmt.Sprintf("Failed to save session: %v", ev.Err)
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	content := m.renderBody()
	if m.width == 0 || m.height == 0 {
		return content
	}
	footer := m.renderFooter()
	if footer == "" || m.height < 3 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	bodyHeight := m.height - 1
	body := lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}

func (m *Model) renderBody() string {
	lines := []string{
		m.renderModelLine(),
		"",
		promptStyle.Render(fmt.Sprintf("Sign  %s", m.prompt)),
		"",
		m.renderPrediction(),
		m.renderSessionLine(),
	}
	if m.summary != nil {
		lines = append(lines, "", correctStyle.Render(session.Describe(*m.summary)))
	}
	if m.status != "" {
		lines = append(lines, "", incorrectStyle.Render(truncate(m.status, m.width)))
	}
	lines = append(lines, "", pendingStyle.Render("s start  x stop  n next  r retry  q quit"))
	return lipgloss.JoinVertical(lipgloss.Center, lines...)
}

func (m *Model) renderModelLine() string {
	switch m.modelState {
	case app.ModelReady:
		return correctStyle.Render("Model ready")
	case app.ModelFailed:
		reason := "unknown error"
		if m.modelErr != nil {
			reason = m.modelErr.Error()
		}
		return incorrectStyle.Render(truncate("Model failed: "+reason, m.width))
	default:
		return pendingStyle.Render("Loading model...")
	}
}

func (m *Model) renderPrediction() string {
	if m.lastPred == nil {
		return pendingStyle.Render("Waiting for gestures")
	}
	text := fmt.Sprintf("Seen %s (%.2f) for %s", m.lastPred.Label, m.lastPred.Confidence, m.lastTarget)
	if m.lastMatch {
		return correctStyle.Render(text + "  match")
	}
	return incorrectStyle.Render(text + "  no match")
}

func (m *Model) renderSessionLine() string {
	if m.session.State != session.StateRunning {
		return pendingStyle.Render("Press s to start a session")
	}
	secs := int((m.session.Remaining + time.Second - 1) / time.Second)
	return correctStyle.Render(fmt.Sprintf("%ds left  %d samples  %d correct", secs, len(m.session.Results), m.session.Correct))
}

func (m *Model) loadFooterStats() {
	if m.history == nil {
		return
	}
	sessions, err := m.history.ListSessions(context.Background(), model.StatsConfig{Username: m.username})
	if err != nil {
		m.logger.Error("failed to load session stats", "err", err)
		return
	}
	for _, s := range sessions {
		acc, conf, ok := statsPkg.SessionMetrics(s)
		if !ok {
			continue
		}
		m.lastAcc = acc
		m.lastConf = conf
		m.hasLast = true
		m.allSamples += s.SampleCount
		m.allCorrect += s.CorrectCount
		m.allConfSum += conf * float64(s.SampleCount)
	}
	m.recomputeAllTime()
}

func (m *Model) recordSummary(sum model.SessionSummary) {
	if !sum.HasSamples() {
		return
	}
	m.lastAcc = *sum.Accuracy
	m.lastConf = *sum.AvgConfidence
	m.hasLast = true
	m.allSamples += sum.SampleCount
	m.allCorrect += sum.CorrectCount
	m.allConfSum += *sum.AvgConfidence * float64(sum.SampleCount)
	m.recomputeAllTime()
}

func (m *Model) recomputeAllTime() {
	if m.allSamples == 0 {
		m.allAcc, m.allConf = 0, 0
		return
	}
	m.allAcc = 100 * float64(m.allCorrect) / float64(m.allSamples)
	m.allConf = m.allConfSum / float64(m.allSamples)
}

func (m *Model) renderFooter() string {
	var segments []string
	if m.session.State == session.StateRunning {
		segments = append(segments, fmt.Sprintf("Samples %d", len(m.session.Results)))
	}
	if m.hasLast {
		segments = append(segments, fmt.Sprintf("Last %.1f%% · %.2f conf", m.lastAcc, m.lastConf))
	}
	if m.allSamples > 0 {
		segments = append(segments, fmt.Sprintf("All-time %.1f%% · %.2f conf", m.allAcc, m.allConf))
	}
	if m.predErrors > 0 {
		segments = append(segments, fmt.Sprintf("Errors %d", m.predErrors))
	}
	if len(segments) == 0 {
		return ""
	}
	return footerStyle.Render(strings.Join(segments, "  "))
}
