package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verte-zerg/signdrill/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS signdrill_sessions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		sign TEXT NOT NULL,
		score DOUBLE PRECISION,
		confidence DOUBLE PRECISION,
		samples INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS signdrill_sessions_user_idx ON signdrill_sessions (username, created_at)`,
	`CREATE TABLE IF NOT EXISTS signdrill_results (
		session_id TEXT NOT NULL REFERENCES signdrill_sessions (id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		target TEXT NOT NULL,
		predicted TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

var resultColumns = []string{"session_id", "seq", "ts", "target", "predicted", "is_correct", "confidence"}

// Postgres stores sessions in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and creates the tables when missing.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply postgres schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

// Save implements Sink.
func (p *Postgres) Save(ctx context.Context, sum model.SessionSummary) error {
	rec := NewRecord(sum)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil {
			// Best-effort rollback; a no-op after commit.
			_ = rerr
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO signdrill_sessions (id, username, sign, score, confidence, samples, correct, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Username, rec.Sign, rec.Score, rec.Confidence,
		rec.Samples, rec.Correct, rec.DurationMs, rec.Timestamp,
	); err != nil {
		return err
	}
	if len(sum.Results) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"signdrill_results"}, resultColumns,
			pgx.CopyFromSlice(len(sum.Results), func(i int) ([]any, error) {
				return resultRow(rec.ID, i, sum.Results[i]), nil
			})); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func resultRow(sessionID string, seq int, r model.SessionResult) []any {
	return []any{sessionID, seq, r.Timestamp, string(r.Target), string(r.Predicted), r.IsCorrect, r.Confidence}
}

// Close implements Sink.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
