package stats

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlotSeries(t *testing.T) {
	var buf bytes.Buffer
	err := PlotSeries(&buf, "Test Plot", []Series{
		{Name: "Accuracy", Values: []float64{10, 40, 70, 90, 100}},
		{Name: "Confidence", Values: []float64{50, 55, 60}},
		{Name: "Empty"},
	}, 12, 4, false)
	if err != nil {
		t.Fatalf("PlotSeries failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Test Plot") {
		t.Fatalf("expected title in output")
	}
	if !strings.Contains(out, "Accuracy: last=100.0% best=100.0%") {
		t.Fatalf("expected series summary in output:\n%s", out)
	}
	if !strings.Contains(out, "Legend:") || strings.Contains(out, "Empty") {
		t.Fatalf("unexpected legend:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	expected := 1 + 2 + 4 + 1
	if len(lines) != expected {
		t.Fatalf("expected %d lines of output, got %d", expected, len(lines))
	}
	if !strings.HasPrefix(lines[3], "100%"+axisSeparator) || !strings.HasPrefix(lines[6], "  0%"+axisSeparator) {
		t.Fatalf("unexpected axis labels:\n%s", out)
	}
	if strings.Contains(out, colorReset) {
		t.Fatalf("color must be off for a buffer")
	}
}

func TestPlotFixedScale(t *testing.T) {
	var buf bytes.Buffer
	if err := PlotSeries(&buf, "", []Series{{Name: "Top", Values: []float64{100, 100}}}, 10, 3, false); err != nil {
		t.Fatalf("plot: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	blank := string(rune(brailleBase))
	// lines[0] is the series summary, then 3 plot rows.
	top := strings.TrimPrefix(lines[1], "100%"+axisSeparator)
	bottom := strings.TrimPrefix(lines[3], "  0%"+axisSeparator)
	if strings.Trim(top, blank) == "" {
		t.Fatalf("expected dots on the top row: %q", top)
	}
	if strings.Trim(bottom, blank) != "" {
		t.Fatalf("expected empty bottom row: %q", bottom)
	}
	if utf8.RuneCountInString(top) != 10 {
		t.Fatalf("expected 10 cells, got %d", utf8.RuneCountInString(top))
	}
}

func TestResample(t *testing.T) {
	if got := resample([]float64{0, 10}, 3); got[0] != 0 || got[1] != 5 || got[2] != 10 {
		t.Fatalf("unexpected stretch %v", got)
	}
	if got := resample([]float64{1, 3, 5, 7}, 2); got[0] != 2 || got[1] != 6 {
		t.Fatalf("unexpected shrink %v", got)
	}
	if got := resample([]float64{4}, 3); got[2] != 4 {
		t.Fatalf("unexpected single-value resample %v", got)
	}
}

func TestPlotWidthFor(t *testing.T) {
	axisWidth := utf8.RuneCountInString(axisLabels[0]) + utf8.RuneCountInString(axisSeparator)
	if got := PlotWidthFor(80); got != 80-axisWidth {
		t.Fatalf("expected width %d, got %d", 80-axisWidth, got)
	}
	if got := PlotWidthFor(0); got != minPlotWidth {
		t.Fatalf("expected min width %d, got %d", minPlotWidth, got)
	}
	if got := PlotWidthFor(5); got != minPlotWidth {
		t.Fatalf("expected min width %d, got %d", minPlotWidth, got)
	}
}
