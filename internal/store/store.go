// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			sign TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			sample_count INTEGER NOT NULL,
			correct_count INTEGER NOT NULL,
			accuracy REAL,
			avg_confidence REAL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_results (
			session_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL,
			target TEXT NOT NULL,
			predicted TEXT NOT NULL,
			is_correct INTEGER NOT NULL,
			confidence REAL NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username);`,
		`CREATE INDEX IF NOT EXISTS idx_session_results_target ON session_results(target);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save implements the result sink.
func (s *Store) Save(ctx context.Context, sum model.SessionSummary) error {
	_, err := s.InsertSession(ctx, sum)
	return err
}

// InsertSession stores a finished session and its per-frame results.
func (s *Store) InsertSession(ctx context.Context, sum model.SessionSummary) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (uuid, username, sign, started_at, ended_at, sample_count, correct_count, accuracy, avg_confidence, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID,
		sum.Username,
		string(sum.Sign),
		sum.StartedAt.Format(time.RFC3339Nano),
		sum.EndedAt.Format(time.RFC3339Nano),
		sum.SampleCount,
		sum.CorrectCount,
		nullFloat(sum.Accuracy),
		nullFloat(sum.AvgConfidence),
		sum.Duration().Milliseconds(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(sum.Results) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO session_results (session_id, seq, ts, target, predicted, is_correct, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, r := range sum.Results {
			if _, err := stmt.ExecContext(ctx, id, i, r.Timestamp.Format(time.RFC3339Nano),
				string(r.Target), string(r.Predicted), boolInt(r.IsCorrect), r.Confidence); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetWeakSigns aggregates per-sign results over a user's most recent sessions.
func (s *Store) GetWeakSigns(ctx context.Context, window int, username string) ([]model.SignAggregate, error) {
	if window <= 0 {
		return nil, nil
	}
	query := `WITH recent_sessions AS (
		SELECT id FROM sessions
		WHERE (? = '' OR username = ?)
		ORDER BY ended_at DESC
		LIMIT ?
	)
	SELECT r.target, SUM(r.is_correct) AS correct, SUM(1 - r.is_correct) AS incorrect,
		SUM(r.confidence) AS confidence_sum
	FROM session_results r
	JOIN recent_sessions rs ON rs.id = r.session_id
	GROUP BY r.target`

	rows, err := s.db.QueryContext(ctx, query, username, username, window)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	return scanSignAggregates(rows)
}

func scanSignAggregates(rows *sql.Rows) ([]model.SignAggregate, error) {
	var result []model.SignAggregate
	for rows.Next() {
		var agg model.SignAggregate
		if err := rows.Scan(&agg.Sign, &agg.Correct, &agg.Incorrect, &agg.ConfidenceSum); err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListSessions returns session aggregates filtered by stats config, oldest first.
func (s *Store) ListSessions(ctx context.Context, cfg model.StatsConfig) ([]model.SessionAggregate, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Username != "" {
		clauses = append(clauses, "username = ?")
		args = append(args, cfg.Username)
	}
	if cfg.Sign != "" {
		clauses = append(clauses, "sign = ?")
		args = append(args, strings.ToUpper(cfg.Sign))
	}
	if cfg.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, cfg.Since.Format(time.RFC3339Nano))
	}
	query := fmt.Sprintf(`SELECT id, uuid, username, sign, ended_at, sample_count, correct_count, accuracy, avg_confidence, duration_ms
		FROM sessions
		WHERE %s
		ORDER BY ended_at ASC`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionAggregate
	for rows.Next() {
		var agg model.SessionAggregate
		var endedAt string
		var accuracy, confidence sql.NullFloat64
		if err := rows.Scan(&agg.SessionID, &agg.UUID, &agg.Username, &agg.Sign, &endedAt,
			&agg.SampleCount, &agg.CorrectCount, &accuracy, &confidence, &agg.DurationMs); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, endedAt)
		if err != nil {
			return nil, err
		}
		agg.EndedAt = parsed
		agg.Accuracy = floatPtr(accuracy)
		agg.AvgConfidence = floatPtr(confidence)
		sessions = append(sessions, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cfg.Last > 0 && len(sessions) > cfg.Last {
		sessions = sessions[len(sessions)-cfg.Last:]
	}
	return sessions, nil
}

// ListSignAggregates aggregates per-sign results across sessions.
func (s *Store) ListSignAggregates(ctx context.Context, sessionIDs []int64) ([]model.SignAggregate, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(sessionIDs))
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT target, SUM(is_correct) AS correct, SUM(1 - is_correct) AS incorrect,
		SUM(confidence) AS confidence_sum
		FROM session_results
		WHERE session_id IN (%s)
		GROUP BY target
		ORDER BY target`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	return scanSignAggregates(rows)
}

// BestScore returns a user's highest stored accuracy for sign, or nil when none.
func (s *Store) BestScore(ctx context.Context, username, sign string) (*float64, error) {
	var best sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(accuracy) FROM sessions WHERE username = ? AND sign = ?`,
		username, strings.ToUpper(sign)).Scan(&best)
	if err != nil {
		return nil, err
	}
	return floatPtr(best), nil
}
