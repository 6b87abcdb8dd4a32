// Package store is the SQLite run ledger: one row per run and one per
// requested function.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Run statuses derived from the function outcomes.
const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordRun stores a finished run, replacing any earlier record of the same id.
func (s *Store) RecordRun(ctx context.Context, c domain.Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, email, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			email = excluded.email,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, c.RunID, c.Email, RunStatus(c.Functions), formatTime(c.StartedAt), formatTime(c.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM function_runs WHERE run_id = ?", c.RunID); err != nil {
		return fmt.Errorf("clear function runs: %w", err)
	}
	for i, f := range c.Functions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO function_runs (run_id, position, mode, status, output_dir, locations, days_written, days_skipped, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.RunID, i, f.Mode.String(), f.Status, f.OutputDir, f.Locations, f.DaysWritten, f.DaysSkipped, f.Error)
		if err != nil {
			return fmt.Errorf("insert function run: %w", err)
		}
	}
	return tx.Commit()
}

// GetRun returns a recorded run, or nil if there is none.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Completion, error) {
	var c domain.Completion
	var started, completed string
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, email, started_at, completed_at FROM runs WHERE run_id = ?", runID,
	).Scan(&c.RunID, &c.Email, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if c.CompletedAt, err = parseTime(completed); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT mode, status, output_dir, locations, days_written, days_skipped, error
		FROM function_runs WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.FunctionOutcome
		var mode string
		if err := rows.Scan(&mode, &f.Status, &f.OutputDir, &f.Locations, &f.DaysWritten, &f.DaysSkipped, &f.Error); err != nil {
			return nil, err
		}
		if f.Mode, err = domain.ParseMode(mode); err != nil {
			return nil, err
		}
		c.Functions = append(c.Functions, f)
	}
	return &c, rows.Err()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, status, completed_at FROM runs ORDER BY completed_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var completed string
		if err := rows.Scan(&r.RunID, &r.Status, &completed); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunStatus summarises function outcomes into one run status.
func RunStatus(functions []domain.FunctionOutcome) string {
	completed := 0
	for _, f := range functions {
		if f.Status == domain.StatusCompleted {
			completed++
		}
	}
	switch {
	case completed == len(functions) && completed > 0:
		return RunCompleted
	case completed == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
