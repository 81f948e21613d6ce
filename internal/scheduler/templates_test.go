package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/store"
	"coco/internal/tools"
)

func newTemplateEnv(t *testing.T, reg *tools.Registry) (*Env, *store.LocalStore) {
	t.Helper()
	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &Env{
		Registry: reg,
		Persist:  st,
		Limiter:  NewLimiter(time.Hour, nil),
		Outbox:   NewOutbox(st),
		Origin:   "test",
	}, st
}

func registerDocTool(t *testing.T, reg *tools.Registry) {
	t.Helper()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "create_document",
		Category: tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"title", "content"},
			Properties: map[string]tools.Property{
				"title": {Type: "string"}, "content": {Type: "string"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			title, _ := input["title"].(string)
			return "Created " + title, nil
		},
	}))
}

func TestHealthCheckReportsCounts(t *testing.T) {
	env, st := newTemplateEnv(t, tools.NewRegistry())
	require.NoError(t, st.InsertExchange(&store.Exchange{UserText: "hi", AgentText: "hello"}))

	out, err := runHealthCheck(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "facts: 0")
	assert.Contains(t, out, "exchanges: 1")
	assert.Contains(t, out, "quota email:")
}

func TestWebResearchWritesDocument(t *testing.T) {
	reg := tools.NewRegistry()
	(&fakeTools{}).register(t, reg, false)
	registerDocTool(t, reg)
	env, _ := newTemplateEnv(t, reg)

	out, err := runWebResearch(context.Background(), env, map[string]any{"query": "tide schedules"})
	require.NoError(t, err)
	assert.Contains(t, out, "Created Research: tide schedules")
	assert.Contains(t, out, "result for tide schedules")
}

func TestWeeklyReportWithNoActivity(t *testing.T) {
	env, _ := newTemplateEnv(t, tools.NewRegistry())
	out, err := runWeeklyReport(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Equal(t, "nothing happened this week", out)
}

func TestMeetingPrepWithEmptyCalendar(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "calendar_list_events",
		Category: tools.CategoryComms,
		Schema: tools.Schema{
			Properties: map[string]tools.Property{"days": {Type: "integer"}},
		},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "No events in the next 1 days", nil
		},
	}))
	env, _ := newTemplateEnv(t, reg)

	out, err := runMeetingPrep(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Equal(t, "no upcoming meetings", out)
}

func TestNewsDigestWithoutRecipients(t *testing.T) {
	reg := tools.NewRegistry()
	(&fakeTools{}).register(t, reg, false)
	env, _ := newTemplateEnv(t, reg)

	out, err := runNewsDigest(context.Background(), env, map[string]any{"topics": []any{"AI"}})
	require.NoError(t, err)
	assert.Contains(t, out, "result for AI news")
}

func TestSimpleEmailValidatesConfig(t *testing.T) {
	reg := tools.NewRegistry()
	(&fakeTools{}).register(t, reg, false)
	env, _ := newTemplateEnv(t, reg)

	_, err := runSimpleEmail(context.Background(), env, map[string]any{"to": "a@b.c"})
	assert.Error(t, err)
}
