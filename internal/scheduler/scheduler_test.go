package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"coco/internal/config"
	"coco/internal/store"
	"coco/internal/tools"
)

type fakeTools struct {
	searches int32
	emails   int32
	tweets   int32
}

func (f *fakeTools) register(t *testing.T, reg *tools.Registry, tweetNeedsApproval bool) {
	t.Helper()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "search_web",
		Category: tools.CategoryResearch,
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query":       {Type: "string"},
				"max_results": {Type: "integer"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			atomic.AddInt32(&f.searches, 1)
			q, _ := input["query"].(string)
			return "1. result for " + q, nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "send_email",
		Category: tools.CategoryComms,
		Schema: tools.Schema{
			Required: []string{"to", "subject", "body"},
			Properties: map[string]tools.Property{
				"to": {Type: "string"}, "subject": {Type: "string"}, "body": {Type: "string"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			atomic.AddInt32(&f.emails, 1)
			to, _ := input["to"].(string)
			return "Email sent to " + to, nil
		},
	}))
	require.NoError(t, reg.Register(&tools.Tool{
		Name:             "post_tweet",
		Category:         tools.CategorySocial,
		RequiresApproval: tweetNeedsApproval,
		Schema: tools.Schema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text": {Type: "string"}, "reply_to_id": {Type: "string"},
			},
		},
		Handler: func(context.Context, map[string]any) (string, error) {
			atomic.AddInt32(&f.tweets, 1)
			return "Tweet posted (id 123)", nil
		},
	}))
}

func newTestScheduler(t *testing.T, reg *tools.Registry) (*Scheduler, *store.LocalStore) {
	t.Helper()
	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultSchedulerConfig()
	cfg.Timezone = "UTC"
	s, err := New(cfg, st, reg, nil, nil)
	require.NoError(t, err)
	return s, st
}

func TestCreateComputesNextRun(t *testing.T) {
	reg := tools.NewRegistry()
	(&fakeTools{}).register(t, reg, false)
	s, _ := newTestScheduler(t, reg)
	s.now = func() time.Time { return time.Date(2025, 11, 4, 8, 0, 0, 0, time.UTC) }

	task, err := s.Create("Morning News", "daily at 9:00", "news_digest",
		map[string]any{"topics": []any{"AI"}})
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", task.CronExpr)
	assert.Equal(t, time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC), task.NextRunAt.UTC())
	assert.True(t, task.Enabled)
}

func TestCreateRejectsUnknownTemplate(t *testing.T) {
	s, _ := newTestScheduler(t, tools.NewRegistry())
	_, err := s.Create("x", "daily at 9:00", "make_coffee", nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestMorningNewsFiresAndAdvances(t *testing.T) {
	reg := tools.NewRegistry()
	fakes := &fakeTools{}
	fakes.register(t, reg, false)
	s, st := newTestScheduler(t, reg)

	s.now = func() time.Time { return time.Date(2025, 11, 4, 8, 0, 0, 0, time.UTC) }
	task, err := s.Create("Morning News", "daily at 9:00", "news_digest",
		map[string]any{"topics": []any{"AI"}, "recipients": []any{"a@b.c"}})
	require.NoError(t, err)

	// Nothing due before the window.
	s.Tick(context.Background())
	assert.Zero(t, atomic.LoadInt32(&fakes.searches))

	s.now = func() time.Time { return time.Date(2025, 11, 4, 9, 0, 5, 0, time.UTC) }
	s.Tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&fakes.searches))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fakes.emails))

	execs, err := st.Executions(task.ID, 5)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, store.ExecutionOK, execs[0].Status)

	stored, err := st.TaskByPrefix(task.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC), stored.NextRunAt.UTC())

	// The run landed in episodic memory as an autonomous exchange.
	recent, err := st.RecentExchanges(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Autonomous)
	assert.Contains(t, recent[0].UserText, "Morning News")
}

func TestFireWindowGuardPreventsDoubleSend(t *testing.T) {
	reg := tools.NewRegistry()
	fakes := &fakeTools{}
	fakes.register(t, reg, false)
	s, st := newTestScheduler(t, reg)

	s.now = func() time.Time { return time.Date(2025, 11, 4, 8, 0, 0, 0, time.UTC) }
	task, err := s.Create("ping", "daily at 9:00", "simple_email",
		map[string]any{"to": "a@b.c", "subject": "hi", "body": "hello"})
	require.NoError(t, err)

	_, err = s.fire(context.Background(), task, time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	_, err = s.fire(context.Background(), task, time.Date(2025, 11, 4, 9, 0, 2, 0, time.UTC), true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fakes.emails))
	execs, err := st.Executions(task.ID, 5)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestApprovalRoutedToOutbox(t *testing.T) {
	reg := tools.NewRegistry()
	fakes := &fakeTools{}
	fakes.register(t, reg, true)
	s, st := newTestScheduler(t, reg)

	task, err := s.Create("announce", "daily at 9:00", "tweet_post", map[string]any{"text": "ship it"})
	require.NoError(t, err)

	exec, err := s.RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionOK, exec.Status)
	assert.Zero(t, atomic.LoadInt32(&fakes.tweets))

	pending, err := st.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "post_tweet", pending[0].ToolName)
	assert.Equal(t, "announce", pending[0].Origin)

	// Approval performs the deferred call through the registry.
	res, err := s.Outbox().Approve(context.Background(), reg, pending[0].ID[:8])
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fakes.tweets))

	pending, err = st.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRejectDropsWithoutExecuting(t *testing.T) {
	reg := tools.NewRegistry()
	fakes := &fakeTools{}
	fakes.register(t, reg, true)
	s, st := newTestScheduler(t, reg)

	task, err := s.Create("announce", "daily at 9:00", "tweet_post", map[string]any{"text": "no"})
	require.NoError(t, err)
	_, err = s.RunNow(context.Background(), task.ID)
	require.NoError(t, err)

	pending, err := st.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = s.Outbox().Reject(pending[0].ID[:8])
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&fakes.tweets))
}

func TestRateLimitedTemplateShortCircuits(t *testing.T) {
	reg := tools.NewRegistry()
	fakes := &fakeTools{}
	fakes.register(t, reg, false)
	s, st := newTestScheduler(t, reg)
	s.env.Limiter = NewLimiter(time.Hour, map[string]int{ServiceTwitter: 0})

	task, err := s.Create("announce", "daily at 9:00", "tweet_post", map[string]any{"text": "hi"})
	require.NoError(t, err)

	exec, err := s.RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionOK, exec.Status)
	assert.Zero(t, atomic.LoadInt32(&fakes.tweets))

	execs, err := st.Executions(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, RateLimitedOutput, execs[0].OutputSummary)
}

func TestTweetThreadChainsReplies(t *testing.T) {
	reg := tools.NewRegistry()
	var lastReplyTo atomic.Value
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "post_tweet",
		Category: tools.CategorySocial,
		Schema: tools.Schema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text": {Type: "string"}, "reply_to_id": {Type: "string"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			if r, ok := input["reply_to_id"].(string); ok {
				lastReplyTo.Store(r)
			}
			return "Tweet posted (id 777)", nil
		},
	}))
	s, _ := newTestScheduler(t, reg)

	task, err := s.Create("thread", "daily at 9:00", "tweet_thread",
		map[string]any{"texts": []any{"part one", "part two"}})
	require.NoError(t, err)

	exec, err := s.RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionOK, exec.Status)
	assert.Equal(t, "777", lastReplyTo.Load())
}

func TestTemplateTimeoutRecordsError(t *testing.T) {
	Templates["test_stuck"] = func(ctx context.Context, _ *Env, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	t.Cleanup(func() { delete(Templates, "test_stuck") })

	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultSchedulerConfig()
	cfg.Timezone = "UTC"
	cfg.TaskTimeoutSeconds = 1
	cfg.TaskHardTimeoutSeconds = 5
	s, err := New(cfg, st, tools.NewRegistry(), nil, nil)
	require.NoError(t, err)

	task, err := s.Create("stuck", "daily at 9:00", "test_stuck", nil)
	require.NoError(t, err)

	exec, err := s.RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionError, exec.Status)

	status, err := s.Status()
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "stuck")
}

func TestStartStopLeavesNoGoroutines(t *testing.T) {
	s, _ := newTestScheduler(t, tools.NewRegistry())
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s.Start()
	s.Stop()
}

func TestStatusReportsNextRun(t *testing.T) {
	reg := tools.NewRegistry()
	(&fakeTools{}).register(t, reg, false)
	s, _ := newTestScheduler(t, reg)
	s.now = func() time.Time { return time.Date(2025, 11, 4, 8, 0, 0, 0, time.UTC) }

	_, err := s.Create("a", "daily at 10:00", "health_check", nil)
	require.NoError(t, err)
	_, err = s.Create("b", "daily at 9:00", "health_check", nil)
	require.NoError(t, err)

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.Tasks)
	assert.Equal(t, 2, status.Enabled)
	assert.Equal(t, time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC), status.NextRun.UTC())
}
