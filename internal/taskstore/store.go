package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/valetd/valet/internal/schedule"
)

// Status is the lifecycle state of a scheduled task.
type Status string

const (
	StatusActive    Status = "active"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Task is one scheduled tool invocation. NextRun is zero when the task has
// no pending trigger.
type Task struct {
	ID        string
	UserKey   string
	ToolName  string
	Args      map[string]any
	Schedule  schedule.Spec
	NextRun   time.Time
	Status    Status
	RunCount  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recurring reports whether the task's schedule can produce further
// triggers after a run.
func (t *Task) Recurring() bool {
	return t.Schedule.Type != schedule.OneTime
}

// Run is one execution attempt, append-only.
type Run struct {
	ID         string
	TaskID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Error      string
}

// Store provides durable CRUD over tasks and their run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at dbPath and applies
// the schema.
func Open(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply task schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeFormat is fixed-width: next_run is a TEXT column and both the due
// filter and the due ordering compare it lexicographically, so trailing
// fractional zeros must not be trimmed (RFC3339Nano would sort ".51Z"
// before ".5Z").
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Create inserts a new active task. The caller supplies the first trigger in
// t.NextRun; the engine only computes subsequent ones. Fills ID and
// timestamps, returns the id.
func (s *Store) Create(ctx context.Context, t *Task) (string, error) {
	if t.ToolName == "" {
		return "", fmt.Errorf("tool_name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Status = StatusActive
	t.CreatedAt = now
	t.UpdatedAt = now

	args, err := json.Marshal(t.Args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	spec, err := json.Marshal(t.Schedule)
	if err != nil {
		return "", fmt.Errorf("marshal schedule: %w", err)
	}
	var nextRun sql.NullString
	if !t.NextRun.IsZero() {
		nextRun = sql.NullString{String: fmtTime(t.NextRun), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, user_key, tool_name, args, schedule, next_run, status, run_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)`,
		t.ID, t.UserKey, t.ToolName, string(args), string(spec), nextRun, string(t.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// FetchDue returns active tasks whose trigger has passed, oldest trigger
// first.
func (s *Store) FetchDue(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, tool_name, args, schedule, next_run, status, run_count, last_error, created_at, updated_at
		FROM scheduled_tasks
		WHERE status = ? AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC
		LIMIT ?`,
		string(StatusActive), fmtTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Get returns a task by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, tool_name, args, schedule, next_run, status, run_count, last_error, created_at, updated_at
		FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// ListForUser returns the user's tasks, newest first.
func (s *Store) ListForUser(ctx context.Context, userKey string, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, tool_name, args, schedule, next_run, status, run_count, last_error, created_at, updated_at
		FROM scheduled_tasks
		WHERE user_key = ?
		ORDER BY created_at DESC
		LIMIT ?`, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CompleteRun records one execution attempt and advances the task, in a
// single transaction: the run-history insert and the task update either
// both land or neither does.
//
// Status transition: a one-time task with no next trigger becomes done on
// success or failed on failure; a recurring task stays active regardless of
// outcome, so a failed run simply retries at its next natural trigger.
func (s *Store) CompleteRun(ctx context.Context, t *Task, run Run, nextRun *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete_run: %w", err)
	}
	defer tx.Rollback()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, started_at, finished_at, success, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, t.ID, fmtTime(run.StartedAt), fmtTime(run.FinishedAt), boolToInt(run.Success), run.Error); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	status := StatusActive
	if nextRun == nil && !t.Recurring() {
		if run.Success {
			status = StatusDone
		} else {
			status = StatusFailed
		}
	}

	var next sql.NullString
	if nextRun != nil {
		next = sql.NullString{String: fmtTime(*nextRun), Valid: true}
	} else if !t.NextRun.IsZero() && t.Recurring() {
		// Recurring task whose descriptor produced no next trigger: keep the
		// stored value rather than clearing it.
		next = sql.NullString{String: fmtTime(t.NextRun), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET next_run = ?, status = ?, run_count = run_count + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		next, string(status), run.Error, fmtTime(time.Now()), t.ID); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete_run: %w", err)
	}

	t.Status = status
	t.RunCount++
	t.LastError = run.Error
	if nextRun != nil {
		t.NextRun = *nextRun
	}
	return nil
}

// Cancel transitions an active task to cancelled. Returns false when the
// task is missing, already terminal, or owned by a different user (when
// userKey is non-empty).
func (s *Store) Cancel(ctx context.Context, id, userKey string) (bool, error) {
	q := `UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{string(StatusCancelled), fmtTime(time.Now()), id, string(StatusActive)}
	if userKey != "" {
		q += ` AND user_key = ?`
		args = append(args, userKey)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRuns returns the most recent run records for a task.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, finished_at, success, error
		FROM task_runs WHERE task_id = ?
		ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var r Run
		var started, finished string
		var success int
		if err := rows.Scan(&r.ID, &r.TaskID, &started, &finished, &success, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Success = success != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var t Task
		var args, spec, status, created, updated string
		var nextRun sql.NullString
		if err := rows.Scan(&t.ID, &t.UserKey, &t.ToolName, &args, &spec, &nextRun,
			&status, &t.RunCount, &t.LastError, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &t.Args); err != nil {
			t.Args = map[string]any{}
		}
		if err := json.Unmarshal([]byte(spec), &t.Schedule); err != nil {
			return nil, fmt.Errorf("task %s has corrupt schedule: %w", t.ID, err)
		}
		if nextRun.Valid {
			t.NextRun = parseTime(nextRun.String)
		}
		t.Status = Status(status)
		t.CreatedAt = parseTime(created)
		t.UpdatedAt = parseTime(updated)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
