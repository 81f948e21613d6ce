package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTask(t *testing.T, s *LocalStore, id, name string) *Task {
	t.Helper()
	task := &Task{
		ID:           id,
		Name:         name,
		ScheduleText: "daily at 09:00",
		CronExpr:     "0 9 * * *",
		TemplateName: "news_digest",
		Config:       map[string]any{"topics": []any{"AI"}},
		Enabled:      true,
		NextRunAt:    time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.InsertTask(task))
	return task
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	insertTask(t, s, "aaaa-1111", "Morning News")

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	got := tasks[0]
	assert.Equal(t, "Morning News", got.Name)
	assert.Equal(t, "0 9 * * *", got.CronExpr)
	assert.True(t, got.Enabled)
	assert.Equal(t, []any{"AI"}, got.Config["topics"])
}

func TestTaskPrefixResolution(t *testing.T) {
	s := newTestStore(t)
	insertTask(t, s, "abc-123", "One")
	insertTask(t, s, "abd-456", "Two")

	got, err := s.TaskByPrefix("abc")
	require.NoError(t, err)
	assert.Equal(t, "One", got.Name)

	_, err = s.TaskByPrefix("ab")
	assert.ErrorIs(t, err, ErrAmbiguousPrefix)

	_, err = s.TaskByPrefix("zzz")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteTaskByPrefixRemovesExecutions(t *testing.T) {
	s := newTestStore(t)
	task := insertTask(t, s, "abc-123", "One")
	require.NoError(t, s.InsertExecution(&Execution{TaskID: task.ID, Status: ExecutionOK}))

	_, err := s.DeleteTaskByPrefix("abc")
	require.NoError(t, err)

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDueTasks(t *testing.T) {
	s := newTestStore(t)
	due := insertTask(t, s, "due-1", "Due")
	future := insertTask(t, s, "fut-1", "Future")
	require.NoError(t, s.UpdateTaskRun(future.ID, time.Time{}, "", time.Now().UTC().Add(time.Hour)))

	got, err := s.DueTasks(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestDisabledTasksNeverDue(t *testing.T) {
	s := newTestStore(t)
	task := insertTask(t, s, "dis-1", "Disabled")
	require.NoError(t, s.SetTaskEnabled(task.ID, false, time.Time{}))

	got, err := s.DueTasks(time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExecutionsOrdered(t *testing.T) {
	s := newTestStore(t)
	task := insertTask(t, s, "ex-1", "Exec")

	early := &Execution{TaskID: task.ID, StartedAt: time.Now().UTC().Add(-time.Hour), Status: ExecutionOK}
	late := &Execution{TaskID: task.ID, StartedAt: time.Now().UTC(), Status: ExecutionError}
	require.NoError(t, s.InsertExecution(early))
	require.NoError(t, s.InsertExecution(late))

	execs, err := s.Executions(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, late.ID, execs[0].ID)
}

func TestCompleteExecution(t *testing.T) {
	s := newTestStore(t)
	task := insertTask(t, s, "cx-1", "Complete")
	ex := &Execution{TaskID: task.ID, Status: ExecutionRunning}
	require.NoError(t, s.InsertExecution(ex))
	require.NoError(t, s.CompleteExecution(ex.ID, ExecutionOK, "sent digest"))

	execs, err := s.Executions(task.ID, 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionOK, execs[0].Status)
	assert.Equal(t, "sent digest", execs[0].OutputSummary)
	assert.False(t, execs[0].CompletedAt.IsZero())
}

func TestOutboxLifecycle(t *testing.T) {
	s := newTestStore(t)

	entry := &OutboxEntry{
		ToolName: "send_email",
		Payload:  map[string]any{"to": "a@b.c", "subject": "digest"},
		Origin:   "news_digest",
	}
	require.NoError(t, s.InsertOutbox(entry))

	pending, err := s.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, OutboxPending, pending[0].Status)

	resolved, err := s.ResolveOutbox(entry.ID[:8], OutboxApproved)
	require.NoError(t, err)
	assert.Equal(t, OutboxApproved, resolved.Status)
	assert.Equal(t, "a@b.c", resolved.Payload["to"])

	pending, err = s.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
