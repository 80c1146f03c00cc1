// Package stats contains statistics calculations and reporting.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

const sparkChars = " .:-=+*#%@"

// SessionMetrics returns the accuracy percentage and mean confidence of a session.
// ok is false for a session without samples; its metrics are not zero, they are absent.
func SessionMetrics(s model.SessionAggregate) (accuracy, confidence float64, ok bool) {
	if s.SampleCount <= 0 {
		return 0, 0, false
	}
	accuracy = 100 * float64(s.CorrectCount) / float64(s.SampleCount)
	if s.Accuracy != nil {
		accuracy = *s.Accuracy
	}
	if s.AvgConfidence != nil {
		confidence = *s.AvgConfidence
	}
	return accuracy, confidence, true
}

// SignAccuracy returns the accuracy percentage of a per-sign aggregate.
func SignAccuracy(agg model.SignAggregate) (float64, bool) {
	total := agg.Total()
	if total == 0 {
		return 0, false
	}
	return 100 * float64(agg.Correct) / float64(total), true
}

// SignConfidence returns the mean confidence of a per-sign aggregate.
func SignConfidence(agg model.SignAggregate) float64 {
	total := agg.Total()
	if total == 0 {
		return 0
	}
	return agg.ConfidenceSum / float64(total)
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		n := i + 1
		if i >= window {
			sum -= values[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	last := len(sparkChars) - 1
	for _, v := range values {
		idx := int(math.Round((v - lo) / (hi - lo) * float64(last)))
		b.WriteByte(sparkChars[max(0, min(idx, last))])
	}
	return b.String()
}

// Summary holds totals over a set of sessions.
type Summary struct {
	Sessions      int
	Scored        int
	Samples       int
	AvgAccuracy   float64
	BestAccuracy  float64
	AvgConfidence float64
	Practice      time.Duration
}

// Summarize computes totals. Sessions without samples are counted but excluded from
// the accuracy and confidence averages.
func Summarize(sessions []model.SessionAggregate) Summary {
	sum := Summary{Sessions: len(sessions)}
	var accTotal, confTotal float64
	for _, s := range sessions {
		sum.Samples += s.SampleCount
		sum.Practice += time.Duration(s.DurationMs) * time.Millisecond
		acc, conf, ok := SessionMetrics(s)
		if !ok {
			continue
		}
		sum.Scored++
		accTotal += acc
		confTotal += conf
		sum.BestAccuracy = math.Max(sum.BestAccuracy, acc)
	}
	if sum.Scored > 0 {
		sum.AvgAccuracy = accTotal / float64(sum.Scored)
		sum.AvgConfidence = confTotal / float64(sum.Scored)
	}
	return sum
}

// RenderSummary prints a summary block for sessions.
func RenderSummary(w io.Writer, sessions []model.SessionAggregate) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	s := Summarize(sessions)
	lines := []string{
		"Summary",
		fmt.Sprintf("Sessions: %d (%d without gestures)", s.Sessions, s.Sessions-s.Scored),
		fmt.Sprintf("Samples: %d", s.Samples),
		fmt.Sprintf("Practice time: %s", s.Practice.Round(time.Second)),
	}
	if s.Scored > 0 {
		lines = append(lines,
			fmt.Sprintf("Avg Accuracy: %.2f%%", s.AvgAccuracy),
			fmt.Sprintf("Best Accuracy: %.2f%%", s.BestAccuracy),
			fmt.Sprintf("Avg Confidence: %.2f", s.AvgConfidence),
		)
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// curveSeries returns per-session accuracy and confidence percentages, skipping
// sessions without samples.
func curveSeries(sessions []model.SessionAggregate, window int) (accs, confs []float64) {
	for _, s := range sessions {
		acc, conf, ok := SessionMetrics(s)
		if !ok {
			continue
		}
		accs = append(accs, acc)
		confs = append(confs, conf*100)
	}
	return MovingAverage(accs, window), MovingAverage(confs, window)
}

// RenderCurvesWithSize prints learning curves sized to a given total width.
func RenderCurvesWithSize(w io.Writer, sessions []model.SessionAggregate, window, totalWidth, height int, useColor bool) error {
	accs, confs := curveSeries(sessions, window)
	if len(accs) == 0 {
		return nil
	}
	width := 0
	if totalWidth > 0 {
		width = PlotWidthFor(totalWidth)
	}
	return PlotSeries(w, "Learning Curves", []Series{
		{Name: "Accuracy", Values: accs},
		{Name: "Confidence", Values: confs},
	}, width, height, useColor)
}

// RenderSignCurvesWithSize prints an accuracy curve per sign over that sign's sessions.
func RenderSignCurvesWithSize(w io.Writer, sessions []model.SessionAggregate, signs []string, window, totalWidth, height int, useColor bool) error {
	if len(signs) == 0 || len(sessions) == 0 {
		return nil
	}
	bySign := map[string][]model.SessionAggregate{}
	for _, s := range sessions {
		bySign[s.Sign] = append(bySign[s.Sign], s)
	}
	width := 0
	if totalWidth > 0 {
		width = PlotWidthFor(totalWidth)
	}
	if _, err := fmt.Fprintln(w, "Per-Sign Curves"); err != nil {
		return err
	}
	for _, sign := range signs {
		accs, confs := curveSeries(bySign[sign], window)
		if len(accs) == 0 {
			continue
		}
		if err := PlotSeries(w, fmt.Sprintf("Sign %s", sign), []Series{
			{Name: "Accuracy", Values: accs},
			{Name: "Confidence", Values: confs},
		}, width, height, useColor); err != nil {
			return err
		}
	}
	return nil
}

// SignRows builds the per-sign table rows, lowest accuracy first.
func SignRows(aggs []model.SignAggregate) [][]string {
	sorted := make([]model.SignAggregate, 0, len(aggs))
	for _, agg := range aggs {
		if agg.Total() > 0 {
			sorted = append(sorted, agg)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		ai, _ := SignAccuracy(sorted[i])
		aj, _ := SignAccuracy(sorted[j])
		if ai == aj {
			return sorted[i].Sign < sorted[j].Sign
		}
		return ai < aj
	})
	rows := make([][]string, 0, len(sorted))
	for _, agg := range sorted {
		acc, _ := SignAccuracy(agg)
		rows = append(rows, []string{
			agg.Sign,
			fmt.Sprintf("%.2f%%", acc),
			fmt.Sprintf("%.2f", SignConfidence(agg)),
			fmt.Sprintf("%d", agg.Correct),
			fmt.Sprintf("%d", agg.Incorrect),
		})
	}
	return rows
}

// SignTableHeaders are the column titles of the per-sign table.
var SignTableHeaders = []string{"Sign", "Accuracy", "Avg Confidence", "Correct", "Incorrect"}

// RenderSignTable prints per-sign aggregates.
func RenderSignTable(w io.Writer, aggs []model.SignAggregate) error {
	rows := SignRows(aggs)
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No sign stats found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Per-Sign"); err != nil {
		return err
	}
	for _, line := range alignRows(signColumns(), rows) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}
