package stats

import (
	"context"
	"fmt"

	"github.com/verte-zerg/signdrill/internal/model"
)

// Source answers the queries a report needs.
type Source interface {
	ListSessions(ctx context.Context, cfg model.StatsConfig) ([]model.SessionAggregate, error)
	ListSignAggregates(ctx context.Context, sessionIDs []int64) ([]model.SignAggregate, error)
}

// Report is everything the stats views render for one filter.
type Report struct {
	Sessions []model.SessionAggregate
	Summary  Summary
	// WindowSessionIDs are the most recent CurveWindow sessions.
	WindowSessionIDs []int64
	SignAggsAll      []model.SignAggregate
	SignAggsWindow   []model.SignAggregate
}

// BuildReport loads sessions matching cfg and their per-sign aggregates, both over
// every session and over the curve window.
func BuildReport(ctx context.Context, src Source, cfg model.StatsConfig) (Report, error) {
	sessions, err := src.ListSessions(ctx, cfg)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	report := Report{
		Sessions: sessions,
		Summary:  Summarize(sessions),
	}
	if len(sessions) == 0 {
		return report, nil
	}

	report.SignAggsAll, err = src.ListSignAggregates(ctx, collectIDs(sessions))
	if err != nil {
		return Report{}, fmt.Errorf("failed to aggregate signs: %w", err)
	}
	window := sessions
	if cfg.CurveWindow > 0 && len(sessions) > cfg.CurveWindow {
		window = sessions[len(sessions)-cfg.CurveWindow:]
	}
	report.WindowSessionIDs = collectIDs(window)
	if len(window) == len(sessions) {
		report.SignAggsWindow = report.SignAggsAll
		return report, nil
	}
	report.SignAggsWindow, err = src.ListSignAggregates(ctx, report.WindowSessionIDs)
	if err != nil {
		return Report{}, fmt.Errorf("failed to aggregate signs: %w", err)
	}
	return report, nil
}

func collectIDs(sessions []model.SessionAggregate) []int64 {
	ids := make([]int64, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}
