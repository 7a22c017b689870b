// Package history persists one row per dispatch in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/skillrun/internal/storage"
)

// Record is a single dispatch as stored in dispatch_log.
type Record struct {
	RunID       string        `json:"run_id"`
	Action      string        `json:"action"`
	TaskPath    string        `json:"task_path"`
	TaskDigest  string        `json:"task_digest"`
	Script      string        `json:"script,omitempty"`
	Outcome     string        `json:"outcome"`
	ExitCode    int           `json:"exit_code"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the history database at path and returns a Store that owns it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts rec.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is empty")
	}
	if rec.Outcome == "" {
		return fmt.Errorf("outcome is empty")
	}

	var script, errText any
	if rec.Script != "" {
		script = rec.Script
	}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dispatch_log(
  run_id, action, task_path, task_digest, script, outcome, exit_code,
  started_at, completed_at, duration_ms, error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.RunID, rec.Action, rec.TaskPath, rec.TaskDigest, script, rec.Outcome, rec.ExitCode,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.CompletedAt.UTC().Format(timeLayout),
		rec.Duration.Milliseconds(),
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, action, task_path, task_digest, script, outcome, exit_code,
       started_at, completed_at, duration_ms, error
FROM dispatch_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatch log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                  Record
			script, errText      sql.NullString
			startedAt, completed string
			durationMS           int64
		)
		if err := rows.Scan(
			&rec.RunID, &rec.Action, &rec.TaskPath, &rec.TaskDigest, &script, &rec.Outcome, &rec.ExitCode,
			&startedAt, &completed, &durationMS, &errText,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch record: %w", err)
		}
		rec.Script = script.String
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", rec.RunID, err)
		}
		if rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at for %s: %w", rec.RunID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch log: %w", err)
	}
	return out, nil
}
