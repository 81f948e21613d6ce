package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAmbiguousPrefix is returned when an id prefix matches more than one task.
var ErrAmbiguousPrefix = errors.New("ambiguous task id prefix")

// ErrTaskNotFound is returned when no task matches an id or prefix.
var ErrTaskNotFound = errors.New("task not found")

// ExecutionStatus enumerates the states of a task execution.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionOK      ExecutionStatus = "ok"
	ExecutionError   ExecutionStatus = "error"
)

// Task is a named, scheduled template invocation.
type Task struct {
	ID           string
	Name         string
	ScheduleText string // as the user wrote it
	CronExpr     string // canonical 5-field form
	Timezone     string
	TemplateName string
	Config       map[string]any
	Enabled      bool
	CreatedAt    time.Time
	LastRunAt    time.Time
	LastStatus   string
	NextRunAt    time.Time
}

// Execution is one append-only record of a task firing.
type Execution struct {
	ID            string
	TaskID        string
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        ExecutionStatus
	OutputSummary string
}

// InsertTask persists a new task, assigning an id when absent.
func (s *LocalStore) InsertTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cfg, err := marshalConfig(t.Config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, name, schedule_text, cron_expr, timezone, template_name, config, enabled, created_at, last_run_at, last_status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.ScheduleText, t.CronExpr, t.Timezone, t.TemplateName, cfg,
		boolToInt(t.Enabled), t.CreatedAt, nullableTime(t.LastRunAt), t.LastStatus, nullableTime(t.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTaskRun records the outcome of one fire: last run, status, and the
// recomputed next run. History is never mutated.
func (s *LocalStore) UpdateTaskRun(id string, lastRun time.Time, status string, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE tasks SET last_run_at = ?, last_status = ?, next_run_at = ? WHERE id = ?",
		lastRun, status, nullableTime(nextRun), id,
	)
	return err
}

// SetTaskEnabled toggles a task without touching its history.
func (s *LocalStore) SetTaskEnabled(id string, enabled bool, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE tasks SET enabled = ?, next_run_at = ? WHERE id = ?",
		boolToInt(enabled), nullableTime(nextRun), id,
	)
	return err
}

// TaskByPrefix resolves an id prefix to exactly one task.
func (s *LocalStore) TaskByPrefix(prefix string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(taskSelect+" WHERE id LIKE ? LIMIT 2", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousPrefix, prefix)
	}
}

// DeleteTaskByPrefix removes the single task matching the prefix.
func (s *LocalStore) DeleteTaskByPrefix(prefix string) (*Task, error) {
	t, err := s.TaskByPrefix(prefix)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM executions WHERE task_id = ?", t.ID); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *LocalStore) ListTasks() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(taskSelect + " ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DueTasks returns enabled tasks whose next_run_at has passed.
func (s *LocalStore) DueTasks(now time.Time) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(taskSelect+
		" WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ? ORDER BY next_run_at", now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// InsertExecution appends a new execution record.
func (s *LocalStore) InsertExecution(e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO executions (id, task_id, started_at, completed_at, status, output_summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.StartedAt, nullableTime(e.CompletedAt), string(e.Status), e.OutputSummary,
	)
	return err
}

// CompleteExecution finalizes an execution record.
func (s *LocalStore) CompleteExecution(id string, status ExecutionStatus, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE executions SET completed_at = ?, status = ?, output_summary = ? WHERE id = ?",
		time.Now().UTC(), string(status), output, id,
	)
	return err
}

// Executions returns a task's executions ordered by start time.
func (s *LocalStore) Executions(taskID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, task_id, started_at, completed_at, status, output_summary
		FROM executions WHERE task_id = ? ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		var completed sql.NullTime
		if err := rows.Scan(&e.ID, &e.TaskID, &e.StartedAt, &completed, &e.Status, &e.OutputSummary); err != nil {
			return nil, err
		}
		if completed.Valid {
			e.CompletedAt = completed.Time
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

const taskSelect = `
	SELECT id, name, schedule_text, cron_expr, timezone, template_name, config,
	       enabled, created_at, last_run_at, last_status, next_run_at
	FROM tasks`

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var t Task
		var cfg string
		var enabled int
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.ScheduleText, &t.CronExpr, &t.Timezone,
			&t.TemplateName, &cfg, &enabled, &t.CreatedAt, &lastRun, &t.LastStatus, &nextRun); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Enabled = enabled != 0
		if lastRun.Valid {
			t.LastRunAt = lastRun.Time
		}
		if nextRun.Valid {
			t.NextRunAt = nextRun.Time
		}
		t.Config = unmarshalConfig(cfg)
		out = append(out, &t)
	}
	return out, rows.Err()
}
