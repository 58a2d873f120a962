// Package history persists one row per subprocess invocation so operators
// can audit what terraform (and the storage CLI) did after the volatile
// registry is gone. This is an audit trail, not tracking state: the
// registry alone decides what is active.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus classifies a recorded run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded subprocess invocation.
type Run struct {
	ID        string    `json:"id"`
	Template  string    `json:"template"`
	Operation string    `json:"operation"`
	Command   string    `json:"command"`
	Status    RunStatus `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes the run log.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one run row and returns its generated ID.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.Template == "" {
		return "", fmt.Errorf("template name is empty")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	var exitCode any
	if run.ExitCode != nil {
		exitCode = *run.ExitCode
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_log(id, template, operation, command, status, exit_code, duration_ms, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Template, run.Operation, run.Command, string(run.Status), exitCode,
		run.Duration, nullIfEmpty(run.Error), run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, template, operation, command, status, exit_code, duration_ms, error, created_at
FROM run_log ORDER BY created_at DESC, id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run       Run
			status    string
			exitCode  sql.NullInt64
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&run.ID, &run.Template, &run.Operation, &run.Command,
			&status, &exitCode, &run.Duration, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = RunStatus(status)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		if errText.Valid {
			run.Error = errText.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			run.CreatedAt = t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
