// Package journal keeps a sqlite record of task executions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tickflow/internal/scheduler"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS executions (
  id TEXT PRIMARY KEY,
  batch TEXT NOT NULL,
  task_id INTEGER NOT NULL,
  priority INTEGER NOT NULL,
  due_tick INTEGER NOT NULL,
  tick INTEGER NOT NULL,
  periodic INTEGER NOT NULL DEFAULT 0,
  panicked INTEGER NOT NULL DEFAULT 0,
  started_ns INTEGER NOT NULL,
  duration_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_ns DESC);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id);
`
	_, err := db.Exec(schema)
	return err
}

// Open opens (or creates) the journal database at path and ensures the
// schema.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

type Entry struct {
	ID       string        `json:"id"`
	Batch    string        `json:"batch"`
	TaskID   uint8         `json:"task_id"`
	Priority uint8         `json:"priority"`
	DueTick  uint32        `json:"due_tick"`
	Tick     uint32        `json:"tick"`
	Periodic bool          `json:"periodic"`
	Panicked bool          `json:"panicked"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
}

type TaskSummary struct {
	TaskID      uint8         `json:"task_id"`
	Runs        int64         `json:"runs"`
	Panics      int64         `json:"panics"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	LastStarted time.Time     `json:"last_started"`
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Record(ctx context.Context, e scheduler.Execution) (string, error) {
	id := "exe_" + uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO executions (id,batch,task_id,priority,due_tick,tick,periodic,panicked,started_ns,duration_ns)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, id, e.Batch.String(), e.TaskID, e.Priority, e.DueTick, e.Tick, e.Periodic, e.Panicked, e.Started.UnixNano(), int64(e.Duration))
	return id, err
}

// Recent returns the newest executions first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,batch,task_id,priority,due_tick,tick,periodic,panicked,started_ns,duration_ns
FROM executions ORDER BY started_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var started, dur int64
		if err := rows.Scan(&e.ID, &e.Batch, &e.TaskID, &e.Priority, &e.DueTick, &e.Tick, &e.Periodic, &e.Panicked, &started, &dur); err != nil {
			return nil, err
		}
		e.Started = time.Unix(0, started)
		e.Duration = time.Duration(dur)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates executions per task id.
func (s *Store) Summary(ctx context.Context) ([]TaskSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, COUNT(*), SUM(panicked), CAST(AVG(duration_ns) AS INTEGER), MAX(started_ns)
FROM executions GROUP BY task_id ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TaskSummary{}
	for rows.Next() {
		var ts TaskSummary
		var avg, last int64
		if err := rows.Scan(&ts.TaskID, &ts.Runs, &ts.Panics, &avg, &last); err != nil {
			return nil, err
		}
		ts.AvgDuration = time.Duration(avg)
		ts.LastStarted = time.Unix(0, last)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep executions.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM executions WHERE id NOT IN (
  SELECT id FROM executions ORDER BY started_ns DESC, rowid DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
