// Package sqlite provides an alternate, optional StateStore backend
// recording per-task state rows in a SQLite database instead of the
// default flat-file layout under the state directory. It is additive:
// the spec-mandated flat-file layout (sched/statedir) remains the
// default, this backend is opted into explicitly by configuration.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed StateStore: one row per task name holding
// its most recently persisted state blob.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at dsn and ensures
// its schema exists. Connection pool settings mirror the teacher's
// single-connection-with-WAL tuning: SQLite has no meaningful
// benefit from multiple concurrent connections against one file, and
// WAL mode is what makes a single writer safe alongside readers.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create task_state schema")
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS task_state (
	task_name  TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SaveState upserts task's state blob.
func (s *Store) SaveState(ctx context.Context, task string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_state (task_name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(task_name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, task, data, time.Now().Unix())
	if err != nil {
		return errors.Wrapf(err, "failed to save state for task %q", task)
	}
	return nil
}

// LoadState returns task's most recently persisted state blob. ok is
// false if no state has ever been saved for task.
func (s *Store) LoadState(ctx context.Context, task string) (data []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM task_state WHERE task_name = ?`, task)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "failed to load state for task %q", task)
	}
	return data, true, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
