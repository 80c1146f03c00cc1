// Package sink persists finished session summaries.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/session"
	"github.com/verte-zerg/signdrill/internal/store"
)

// Backends selectable from configuration.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// DefaultRedisKey prefixes every redis key.
const DefaultRedisKey = "signdrill"

// Sink stores finished sessions.
type Sink interface {
	Save(ctx context.Context, sum model.SessionSummary) error
	Close() error
}

// Config selects and configures a sink backend.
type Config struct {
	Backend string
	// DSN is the SQLite path or the Postgres connection string.
	DSN       string
	RedisAddr string
	RedisKey  string
	Logger    *slog.Logger
}

// Record is the stored shape of a summary.
type Record struct {
	ID         string
	Username   string
	Sign       string
	Score      *float64
	Confidence *float64
	Samples    int
	Correct    int
	DurationMs int64
	Timestamp  time.Time
}

// NewRecord flattens a summary. Score is the accuracy percentage.
func NewRecord(sum model.SessionSummary) Record {
	return Record{
		ID:         sum.ID,
		Username:   sum.Username,
		Sign:       string(sum.Sign),
		Score:      sum.Accuracy,
		Confidence: sum.AvgConfidence,
		Samples:    sum.SampleCount,
		Correct:    sum.CorrectCount,
		DurationMs: sum.Duration().Milliseconds(),
		Timestamp:  sum.EndedAt,
	}
}

// Validate checks the fields every backend requires.
func Validate(sum model.SessionSummary) error {
	if strings.TrimSpace(sum.Username) == "" {
		return fmt.Errorf("%w: username is required", session.ErrValidation)
	}
	if !sum.Sign.IsLetter() {
		return fmt.Errorf("%w: sign is required", session.ErrValidation)
	}
	if sum.ID == "" {
		return fmt.Errorf("%w: session id is required", session.ErrValidation)
	}
	if sum.Accuracy != nil && (*sum.Accuracy < 0 || *sum.Accuracy > 100) {
		return fmt.Errorf("%w: score out of range", session.ErrValidation)
	}
	return nil
}

// Validated rejects invalid summaries before they reach the wrapped sink.
type Validated struct {
	next   Sink
	logger *slog.Logger
}

// NewValidated wraps next.
func NewValidated(next Sink, logger *slog.Logger) *Validated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validated{next: next, logger: logger}
}

// Save implements Sink.
func (v *Validated) Save(ctx context.Context, sum model.SessionSummary) error {
	if err := Validate(sum); err != nil {
		return err
	}
	if err := v.next.Save(ctx, sum); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sum.ID, err)
	}
	v.logger.Info("session saved", "id", sum.ID, "user", sum.Username, "sign", sum.Sign, "samples", sum.SampleCount)
	return nil
}

// Close implements Sink.
func (v *Validated) Close() error {
	return v.next.Close()
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	var (
		next Sink
		err  error
	)
	switch cfg.Backend {
	case "", BackendSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite sink requires a database path")
		}
		next, err = store.Open(cfg.DSN)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres sink requires a DSN")
		}
		next, err = OpenPostgres(ctx, cfg.DSN)
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis sink requires an address")
		}
		key := cfg.RedisKey
		if key == "" {
			key = DefaultRedisKey
		}
		next, err = OpenRedis(ctx, cfg.RedisAddr, key)
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewValidated(next, cfg.Logger), nil
}
