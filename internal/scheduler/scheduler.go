package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coco/internal/config"
	"coco/internal/logging"
	"coco/internal/store"
	"coco/internal/tools"
)

// Scheduler owns the task store and the background worker that fires due
// tasks. All task mutation goes through it so next_run_at is always derived
// from the schedule.
type Scheduler struct {
	cfg      config.SchedulerConfig
	persist  *store.LocalStore
	registry *tools.Registry
	env      *Env
	audit    *logging.AuditTrail
	loc      *time.Location
	now      func() time.Time

	mu        sync.Mutex
	running   map[string]bool
	lastTick  time.Time
	lastError string

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Status is the scheduler's externally visible state.
type Status struct {
	Tasks     int
	Enabled   int
	Running   []string
	LastTick  time.Time
	NextRun   time.Time
	LastError string
}

// New builds a scheduler. Registry and store are required; summarizer and
// audit are optional.
func New(cfg config.SchedulerConfig, persist *store.LocalStore, registry *tools.Registry, summarizer Summarizer, audit *logging.AuditTrail) (*Scheduler, error) {
	if persist == nil || registry == nil {
		return nil, fmt.Errorf("scheduler requires a store and a registry")
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("bad scheduler timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	s := &Scheduler{
		cfg:      cfg,
		persist:  persist,
		registry: registry,
		audit:    audit,
		loc:      loc,
		now:      time.Now,
		running:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	s.env = &Env{
		Registry:   registry,
		Persist:    persist,
		Limiter:    NewLimiter(time.Hour, nil),
		Outbox:     NewOutbox(persist),
		Summarizer: summarizer,
	}
	return s, nil
}

// Outbox exposes the approval queue shared with the CLI.
func (s *Scheduler) Outbox() *Outbox { return s.env.Outbox }

// Create parses the schedule, validates the template, and persists the task
// with its first next_run_at.
func (s *Scheduler) Create(name, scheduleText, templateName string, cfg map[string]any) (*store.Task, error) {
	if _, ok := Templates[templateName]; !ok {
		return nil, fmt.Errorf("unknown template %q (have: %s)", templateName, strings.Join(TemplateNames(), ", "))
	}
	sched, err := ParseSchedule(scheduleText)
	if err != nil {
		return nil, err
	}
	now := s.now().In(s.loc)
	task := &store.Task{
		Name:         name,
		ScheduleText: sched.Text,
		CronExpr:     sched.CronExpr,
		Timezone:     s.loc.String(),
		TemplateName: templateName,
		Config:       cfg,
		Enabled:      true,
		NextRunAt:    sched.Next(now),
	}
	if err := s.persist.InsertTask(task); err != nil {
		return nil, err
	}
	logging.Scheduler("Created task %q (%s): %s, next run %s",
		name, task.ID[:8], sched.CronExpr, task.NextRunAt.Format(time.RFC3339))
	return task, nil
}

// List returns all tasks.
func (s *Scheduler) List() ([]*store.Task, error) {
	return s.persist.ListTasks()
}

// Remove deletes a task by id prefix. Its executions remain.
func (s *Scheduler) Remove(idPrefix string) (*store.Task, error) {
	return s.persist.DeleteTaskByPrefix(idPrefix)
}

// SetEnabled flips a task without touching its history. Re-enabling
// recomputes next_run_at so the task never back-fires missed windows.
func (s *Scheduler) SetEnabled(idPrefix string, enabled bool) (*store.Task, error) {
	task, err := s.persist.TaskByPrefix(idPrefix)
	if err != nil {
		return nil, err
	}
	next := task.NextRunAt
	if enabled {
		next, err = NextRun(task.CronExpr, task.ScheduleText, s.loc, s.now())
		if err != nil {
			return nil, err
		}
	}
	if err := s.persist.SetTaskEnabled(task.ID, enabled, next); err != nil {
		return nil, err
	}
	task.Enabled = enabled
	task.NextRunAt = next
	return task, nil
}

// RunNow fires a task immediately, bypassing the schedule and the fire-window
// guard. next_run_at is still recomputed from the schedule afterward.
func (s *Scheduler) RunNow(ctx context.Context, idPrefix string) (*store.Execution, error) {
	task, err := s.persist.TaskByPrefix(idPrefix)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, task, s.now(), false)
}

// Status reports counts, running tasks, and the soonest upcoming fire.
func (s *Scheduler) Status() (*Status, error) {
	tasks, err := s.persist.ListTasks()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Status{Tasks: len(tasks), LastTick: s.lastTick, LastError: s.lastError}
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		st.Enabled++
		if st.NextRun.IsZero() || t.NextRunAt.Before(st.NextRun) {
			st.NextRun = t.NextRunAt
		}
	}
	for id := range s.running {
		st.Running = append(st.Running, id)
	}
	sort.Strings(st.Running)
	return st, nil
}

// Start launches the background worker. Safe to call once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
		logging.Scheduler("Worker started, tick %s", s.cfg.Tick())
	})
}

// Stop shuts the worker down and waits for in-flight task runs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick())
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every enabled task whose next_run_at has passed. Exposed for
// the worker loop and for tests; a tick never runs the same task twice
// concurrently.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	due, err := s.persist.DueTasks(now)
	if err != nil {
		s.noteError(fmt.Sprintf("due-task query failed: %v", err))
		return
	}
	for _, task := range due {
		if _, err := s.fire(ctx, task, now, true); err != nil {
			s.noteError(fmt.Sprintf("task %s: %v", task.Name, err))
		}
	}
}

// fire runs one task through its template, records the execution, writes the
// autonomous exchange, and advances next_run_at.
func (s *Scheduler) fire(ctx context.Context, task *store.Task, firedAt time.Time, guarded bool) (*store.Execution, error) {
	s.mu.Lock()
	if s.running[task.ID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s already running", task.Name)
	}
	s.running[task.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	// Fire-window guard: a task that already ran in this schedule minute is
	// not run again, so a double tick cannot double-send.
	if guarded {
		if prev, err := s.persist.Executions(task.ID, 1); err == nil && len(prev) > 0 {
			if prev[0].StartedAt.Truncate(time.Minute).Equal(firedAt.Truncate(time.Minute)) {
				logging.SchedulerDebug("Task %s already ran in this window, skipping", task.Name)
				return s.advance(task, firedAt, prev[0])
			}
		}
	}

	tmpl, ok := Templates[task.TemplateName]
	if !ok {
		return nil, fmt.Errorf("task %s references unknown template %q", task.Name, task.TemplateName)
	}

	exec := &store.Execution{TaskID: task.ID, StartedAt: firedAt, Status: store.ExecutionRunning}
	if err := s.persist.InsertExecution(exec); err != nil {
		return nil, err
	}
	s.auditRecord(logging.AuditTaskFire, task.Name, map[string]any{"template": task.TemplateName})

	output, runErr := s.runTemplate(ctx, tmpl, task)

	status := store.ExecutionOK
	if runErr != nil {
		status = store.ExecutionError
		output = runErr.Error()
		s.noteError(fmt.Sprintf("task %s: %v", task.Name, runErr))
		s.auditRecord(logging.AuditTaskError, task.Name, map[string]any{"error": runErr.Error()})
	} else {
		s.auditRecord(logging.AuditTaskComplete, task.Name, map[string]any{"output": clip(output, 200)})
	}
	exec.Status = status
	if err := s.persist.CompleteExecution(exec.ID, status, clip(output, 2000)); err != nil {
		logging.Scheduler("Failed to complete execution record: %v", err)
	}
	s.recordMemory(ctx, task, output, status)
	return s.advance(task, firedAt, exec)
}

// runTemplate applies the per-template timeout through the context and the
// hard wall-clock cap through a watchdog. A template that ignores its
// context is abandoned at the hard cap and recorded as an error.
func (s *Scheduler) runTemplate(ctx context.Context, tmpl TemplateFunc, task *store.Task) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout())
	defer cancel()

	env := *s.env
	env.Origin = task.Name
	env.Now = s.now

	type outcome struct {
		output string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("template %s panicked: %v", task.TemplateName, r)}
			}
		}()
		out, err := tmpl(tctx, &env, task.Config)
		ch <- outcome{output: out, err: err}
	}()

	hard := time.NewTimer(s.cfg.TaskHardTimeout())
	defer hard.Stop()
	select {
	case o := <-ch:
		return o.output, o.err
	case <-hard.C:
		cancel()
		return "", fmt.Errorf("template %s exceeded hard timeout %s", task.TemplateName, s.cfg.TaskHardTimeout())
	}
}

// recordMemory writes the run into episodic and semantic memory so the
// engine can recall what its autonomous half has been doing.
func (s *Scheduler) recordMemory(ctx context.Context, task *store.Task, output string, status store.ExecutionStatus) {
	ex := &store.Exchange{
		SessionID:  "scheduler",
		UserText:   fmt.Sprintf("[scheduled] %s (%s)", task.Name, task.TemplateName),
		AgentText:  clip(output, 2000),
		Autonomous: true,
	}
	if err := s.persist.InsertExchange(ex); err != nil {
		logging.Scheduler("Failed to persist autonomous exchange: %v", err)
		return
	}
	gist := fmt.Sprintf("Scheduled task %s ran (%s): %s", task.Name, status, clip(output, 300))
	if err := s.persist.AddSemantic(ctx, gist, 0.4); err != nil {
		logging.Scheduler("Failed to store semantic entry: %v", err)
	}
}

// advance recomputes next_run_at from the schedule and records the run.
func (s *Scheduler) advance(task *store.Task, firedAt time.Time, exec *store.Execution) (*store.Execution, error) {
	next, err := NextRun(task.CronExpr, task.ScheduleText, s.loc, firedAt)
	if err != nil {
		return exec, err
	}
	if err := s.persist.UpdateTaskRun(task.ID, firedAt, string(exec.Status), next); err != nil {
		return exec, err
	}
	logging.Scheduler("Task %s done (%s), next run %s", task.Name, exec.Status, next.Format(time.RFC3339))
	return exec, nil
}

func (s *Scheduler) noteError(msg string) {
	logging.Scheduler("%s", msg)
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Scheduler) auditRecord(t logging.AuditEventType, subject string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(t, "scheduler", subject, detail)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
