// Package sqlite provides a durable audit sink backed by an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/taskmesh/taskmesh/audit"
	"github.com/taskmesh/taskmesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id         TEXT PRIMARY KEY,
	protocol   TEXT NOT NULL,
	task       TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	status     TEXT NOT NULL,
	error      TEXT
);
CREATE TABLE IF NOT EXISTS steps (
	execution_id      TEXT NOT NULL REFERENCES executions(id),
	step_id           TEXT NOT NULL,
	name              TEXT NOT NULL,
	tool              TEXT,
	status            TEXT NOT NULL,
	error_kind        TEXT,
	error             TEXT,
	recovery_strategy TEXT,
	duration_ms       INTEGER NOT NULL,
	PRIMARY KEY (execution_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_steps_execution ON steps(execution_id);
`

// Sink persists execution history to a SQLite file.
type Sink struct {
	db *sql.DB
}

// Open creates (or opens) the audit database at path and ensures the
// schema exists.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// ExecutionStarted implements audit.Sink.
func (s *Sink) ExecutionStarted(ctx context.Context, ex audit.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, protocol, task, started_at, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		ex.ID, ex.Protocol, ex.Task, ex.StartedAt, ex.Status)
	return err
}

// StepFinished implements audit.Sink.
func (s *Sink) StepFinished(ctx context.Context, rec audit.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (execution_id, step_id, name, tool, status, error_kind, error, recovery_strategy, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, step_id) DO UPDATE SET
			status = excluded.status,
			error_kind = excluded.error_kind,
			error = excluded.error,
			recovery_strategy = excluded.recovery_strategy,
			duration_ms = excluded.duration_ms`,
		rec.ExecutionID, rec.StepID, rec.Name, rec.Tool, string(rec.Status),
		string(rec.ErrorKind), rec.Error, rec.Strategy, rec.DurationMs)
	return err
}

// ExecutionFinished implements audit.Sink.
func (s *Sink) ExecutionFinished(ctx context.Context, ex audit.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET ended_at = ?, status = ?, error = ? WHERE id = ?`,
		ex.EndedAt, ex.Status, ex.Error, ex.ID)
	return err
}

// Executions returns all recorded executions, most recent first.
func (s *Sink) Executions(ctx context.Context) ([]audit.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, protocol, task, started_at, COALESCE(ended_at, started_at), status, COALESCE(error, '')
		FROM executions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Execution
	for rows.Next() {
		var ex audit.Execution
		if err := rows.Scan(&ex.ID, &ex.Protocol, &ex.Task, &ex.StartedAt, &ex.EndedAt, &ex.Status, &ex.Error); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Steps returns the recorded step history for one execution.
func (s *Sink) Steps(ctx context.Context, executionID string) ([]audit.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, step_id, name, COALESCE(tool, ''), status,
		       COALESCE(error_kind, ''), COALESCE(error, ''), COALESCE(recovery_strategy, ''), duration_ms
		FROM steps WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.StepRecord
	for rows.Next() {
		var rec audit.StepRecord
		var status, kind string
		if err := rows.Scan(&rec.ExecutionID, &rec.StepID, &rec.Name, &rec.Tool, &status,
			&kind, &rec.Error, &rec.Strategy, &rec.DurationMs); err != nil {
			return nil, err
		}
		rec.Status = core.StepStatus(status)
		rec.ErrorKind = core.ErrorKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Sink) Close() error { return s.db.Close() }
