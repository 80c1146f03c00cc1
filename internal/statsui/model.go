// Package statsui provides the Bubble Tea stats interface.
package statsui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/stats"
)

const (
	tabOverview = iota
	tabSignTable
	tabSignCurves
)

const (
	plotHeight     = 10
	curveSignCount = 5
	dateLayout     = "2006-01-02"
)

// Filter input positions.
const (
	fieldUser = iota
	fieldSign
	fieldSince
	fieldLast
	fieldWindow
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Model implements the Bubble Tea stats UI.
type Model struct {
	src stats.Source
	cfg model.StatsConfig

	report stats.Report
	errMsg string

	tabs      []string
	activeTab int
	viewports []viewport.Model
	signTable table.Model

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a stats UI model over src.
func NewModel(src stats.Source, cfg model.StatsConfig) *Model {
	m := &Model{
		src:  src,
		cfg:  cfg,
		tabs: []string{"Overview", "Sign Table", "Sign Curves"},
	}
	m.initInputs()
	m.signTable = table.New(
		table.WithColumns(signColumns()),
		table.WithHeight(1),
	)
	m.signTable.SetStyles(signTableStyles())
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
	m.refreshReport()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "=":
			m.cfg.CurveWindow = nextCurveWindow(m.cfg.CurveWindow)
			m.refreshReport()
			return m, nil
		case "-":
			m.cfg.CurveWindow = prevCurveWindow(m.cfg.CurveWindow)
			m.refreshReport()
			return m, nil
		case "/":
			return m.startFilter()
		}
		var cmd tea.Cmd
		if m.activeTab == tabSignTable {
			m.signTable, cmd = m.signTable.Update(msg)
			return m, cmd
		}
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderTabs()+"\n"+m.renderFilterSummary(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	headerHeight = max(1, lipgloss.Height(activeNavStyle.Render("X"))) + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = bodyHeight
	}
	m.signTable.SetWidth(m.width)
	m.signTable.SetHeight(max(1, bodyHeight-1))
	for i := range m.filterInputs {
		m.filterInputs[i].Width = max(10, m.width-lipgloss.Width(m.filterInputs[i].Prompt)-2)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	m.activeTab = (m.activeTab + delta + count) % count
	if m.activeTab == tabSignTable {
		m.signTable.Focus()
	} else {
		m.signTable.Blur()
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderFilterSummary() string {
	summary := fmt.Sprintf("Settings: user=%s  sign=%s  since=%s  last=%s  window=%d",
		orDefault(m.cfg.Username, "any"),
		orDefault(m.cfg.Sign, "any"),
		formatSince(m.cfg.Since),
		formatLast(m.cfg.Last),
		m.cfg.CurveWindow)
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab: next field  enter: apply  esc: cancel  quit: ctrl+c")
	}
	help := headerStyle.Render("Nav: left/right  Scroll: up/down/pgup/pgdn  Window: -/=  Settings: /  Quit: q")
	if m.errMsg != "" {
		return help + "\n" + errorStyle.Render(m.errMsg)
	}
	return help
}

func (m *Model) renderBody() string {
	if m.filterMode {
		lines := []string{"Settings (enter to apply, esc to cancel)"}
		for _, input := range m.filterInputs {
			lines = append(lines, input.View())
		}
		if m.filterError != "" {
			lines = append(lines, errorStyle.Render(m.filterError))
		}
		return strings.Join(lines, "\n")
	}
	if m.activeTab == tabSignTable {
		switch {
		case len(m.report.Sessions) == 0:
			return "No sessions found."
		case len(m.signTable.Rows()) == 0:
			return "No sign stats found."
		default:
			return tableMutedStyle.Render(m.signTable.View())
		}
	}
	return m.viewports[m.activeTab].View()
}

func (m *Model) refreshReport() {
	report, err := stats.BuildReport(context.Background(), m.src, m.cfg)
	if err != nil {
		m.errMsg = err.Error()
		m.report = stats.Report{}
		for i := range m.viewports {
			m.viewports[i].SetContent("Failed to load stats.")
		}
		return
	}
	m.errMsg = ""
	m.report = report
	m.signTable.SetRows(signRows(report.SignAggsWindow))
	m.renderTabContents()
}

func (m *Model) renderTabContents() {
	if m.errMsg != "" {
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.viewports[tabOverview].SetContent(renderOverview(m.report.Sessions, m.cfg.CurveWindow, width))
	m.viewports[tabSignCurves].SetContent(renderSignCurves(m.report.Sessions, m.cfg.CurveWindow, width))
}

func renderOverview(sessions []model.SessionAggregate, window, width int) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}
	cards := renderSummaryCards(stats.Summarize(sessions), width)
	var buf bytes.Buffer
	if err := stats.RenderCurvesWithSize(&buf, sessions, window, width, plotHeight, true); err != nil {
		return fmt.Sprintf("Failed to render curves: %v", err)
	}
	return strings.TrimRight(cards+"\n\n"+buf.String(), "\n")
}

func renderSummaryCards(s stats.Summary, width int) string {
	accuracy, best, confidence := "n/a", "n/a", "n/a"
	if s.Scored > 0 {
		accuracy = fmt.Sprintf("%.1f%%", s.AvgAccuracy)
		best = fmt.Sprintf("%.1f%%", s.BestAccuracy)
		confidence = fmt.Sprintf("%.2f", s.AvgConfidence)
	}
	cards := []string{
		metricCard("Sessions", strconv.Itoa(s.Sessions)),
		metricCard("Samples", strconv.Itoa(s.Samples)),
		metricCard("Practice", s.Practice.Round(time.Second).String()),
		metricCard("Avg Acc", accuracy),
		metricCard("Best Acc", best),
		metricCard("Avg Conf", confidence),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[:3]...)
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3:]...)
	return lipgloss.JoinVertical(lipgloss.Left, row1, row2)
}

func metricCard(label, value string) string {
	return cardStyle.Render(cardTitleStyle.Render(label) + "\n" + cardValueStyle.Render(value))
}

func renderSignCurves(sessions []model.SessionAggregate, window, width int) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}
	signs := stats.TopSignsByPractice(sessions, curveSignCount)
	header := headerStyle.Render("Signs: " + strings.Join(signs, ", "))
	var buf bytes.Buffer
	if err := stats.RenderSignCurvesWithSize(&buf, sessions, signs, window, width, plotHeight, true); err != nil {
		return fmt.Sprintf("Failed to render sign curves: %v", err)
	}
	return strings.TrimRight(header+"\n"+buf.String(), "\n")
}

func signColumns() []table.Column {
	widths := []int{4, 9, 14, 7, 9}
	cols := make([]table.Column, len(stats.SignTableHeaders))
	for i, title := range stats.SignTableHeaders {
		cols[i] = table.Column{Title: title, Width: widths[i]}
	}
	return cols
}

func signRows(aggs []model.SignAggregate) []table.Row {
	rows := stats.SignRows(aggs)
	out := make([]table.Row, len(rows))
	for i, row := range rows {
		out[i] = table.Row(row)
	}
	return out
}

func signTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.Padding(0, 1).PaddingLeft(0)
	styles.Selected = styles.Cell.Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	return styles
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("User: "),
		newFilterInput("Sign: "),
		newFilterInput("Since (YYYY-MM-DD): "),
		newFilterInput("Last: "),
		newFilterInput("Curve window: "),
	}
	m.setInputsFromConfig()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromConfig() {
	m.filterInputs[fieldUser].SetValue(m.cfg.Username)
	m.filterInputs[fieldSign].SetValue(m.cfg.Sign)
	since := ""
	if m.cfg.Since != nil {
		since = m.cfg.Since.Format(dateLayout)
	}
	m.filterInputs[fieldSince].SetValue(since)
	last := ""
	if m.cfg.Last > 0 {
		last = strconv.Itoa(m.cfg.Last)
	}
	m.filterInputs[fieldLast].SetValue(last)
	m.filterInputs[fieldWindow].SetValue(strconv.Itoa(m.cfg.CurveWindow))
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromConfig()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		cfg, err := parseFilter(m.filterInputs)
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.cfg = cfg
		m.filterMode = false
		m.filterError = ""
		m.refreshReport()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	m.filterIndex = (idx + count) % count
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == m.filterIndex {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func parseFilter(inputs []textinput.Model) (model.StatsConfig, error) {
	value := func(i int) string { return strings.TrimSpace(inputs[i].Value()) }
	cfg := model.StatsConfig{Username: value(fieldUser)}

	if sign := value(fieldSign); sign != "" {
		label, ok := model.ParseLabel(sign)
		if !ok {
			return model.StatsConfig{}, fmt.Errorf("invalid sign (use a single letter A-Z)")
		}
		cfg.Sign = string(label)
	}
	if since := value(fieldSince); since != "" {
		parsed, err := time.ParseInLocation(dateLayout, since, time.Local)
		if err != nil {
			return model.StatsConfig{}, fmt.Errorf("invalid since date (expected YYYY-MM-DD)")
		}
		cfg.Since = &parsed
	}
	if last := value(fieldLast); last != "" {
		parsed, err := strconv.Atoi(last)
		if err != nil || parsed < 0 {
			return model.StatsConfig{}, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		cfg.Last = parsed
	}
	cfg.CurveWindow = 1
	if window := value(fieldWindow); window != "" {
		parsed, err := strconv.Atoi(window)
		if err != nil || parsed < 1 {
			return model.StatsConfig{}, fmt.Errorf("invalid curve window (use integer >= 1)")
		}
		cfg.CurveWindow = parsed
	}
	return cfg, nil
}

func nextCurveWindow(n int) int {
	if n < 5 {
		return 5
	}
	return (n/5 + 1) * 5
}

func prevCurveWindow(n int) int {
	if n <= 5 {
		return 1
	}
	if n%5 == 0 {
		return n - 5
	}
	return (n / 5) * 5
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func formatSince(since *time.Time) string {
	if since == nil {
		return "any"
	}
	return since.Format(dateLayout)
}

func formatLast(last int) string {
	if last <= 0 {
		return "all"
	}
	return strconv.Itoa(last)
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if w := lipgloss.Width(line); w < width {
			lines[i] = line + strings.Repeat(" ", width-w)
		}
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
