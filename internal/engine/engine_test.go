package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/config"
	coctx "coco/internal/context"
	"coco/internal/facts"
	"coco/internal/store"
	"coco/internal/tools"
)

// mockLLM scripts completions: queued responses are returned in order, then
// repeat (when set), then a plain "ok" text completion.
type mockLLM struct {
	mu             sync.Mutex
	requests       []CompletionRequest
	queue          []*Completion
	repeat         *Completion
	summarizeCalls int
}

func (m *mockLLM) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.queue) > 0 {
		c := m.queue[0]
		m.queue = m.queue[1:]
		return c, nil
	}
	if m.repeat != nil {
		return m.repeat, nil
	}
	return &Completion{Text: "ok", StopReason: "end_turn"}, nil
}

func (m *mockLLM) Summarize(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summarizeCalls++
	return "compressed conversation history", nil
}

func (m *mockLLM) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) request(i int) CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func echoTool(name string) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: "echoes its input",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Properties: map[string]tools.Property{"x": {Type: "string"}},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			v, _ := input["x"].(string)
			return name + " saw " + v, nil
		},
	}
}

type testEngine struct {
	engine *Engine
	llm    *mockLLM
	store  *store.LocalStore
	buffer *coctx.Buffer
	sums   *coctx.SummaryBuffer
}

func newTestEngine(t *testing.T, llm *mockLLM, reg *tools.Registry) *testEngine {
	t.Helper()
	ws := t.TempDir()
	cfg := config.Default(ws)

	st, err := store.NewLocalStore(filepath.Join(ws, "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	est := coctx.NewEstimator()
	buf := coctx.NewBuffer(cfg.Memory.BufferRollingCheckpoint, est)
	sums, err := coctx.NewSummaryBuffer(st, est, llm.Summarize, cfg.Memory.SummaryBudgetTokens)
	require.NoError(t, err)

	pb := NewPromptBuilder(cfg.Memory, cfg.Facts, est, nil, sums, buf, nil, st)
	eng, err := New(Options{
		Config:    cfg,
		LLM:       llm,
		Registry:  reg,
		Store:     st,
		Buffer:    buf,
		Summaries: sums,
		Prompt:    pb,
		Estimator: est,
	})
	require.NoError(t, err)
	return &testEngine{engine: eng, llm: llm, store: st, buffer: buf, sums: sums}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "config")

	_, err = New(Options{Config: config.Default(t.TempDir())})
	assert.ErrorContains(t, err, "LLM")
}

func TestPlainTextTurn(t *testing.T) {
	te := newTestEngine(t, &mockLLM{}, nil)

	rec, err := te.engine.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.AgentText)
	assert.Zero(t, rec.Depth)
	assert.Empty(t, rec.ToolCalls)
	assert.Greater(t, rec.ExchangeID, int64(0))

	recent, err := te.store.RecentExchanges(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hello there", recent[0].UserText)
	assert.Equal(t, "ok", recent[0].AgentText)
	assert.Equal(t, te.engine.SessionID(), recent[0].SessionID)
	assert.Equal(t, 1, te.buffer.Len())
}

func TestEmptyMessageRejected(t *testing.T) {
	te := newTestEngine(t, &mockLLM{}, nil)
	_, err := te.engine.ProcessTurn(context.Background(), "   ")
	assert.Error(t, err)
}

func TestMultipleToolCallsAnsweredInOneMessage(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(echoTool("alpha")))
	require.NoError(t, reg.Register(echoTool("beta")))

	llm := &mockLLM{queue: []*Completion{
		{StopReason: "tool_use", ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "alpha", Input: map[string]any{"x": "one"}},
			{ID: "tu_2", Name: "beta", Input: map[string]any{"x": "two"}},
		}},
		{Text: "both done", StopReason: "end_turn"},
	}}
	te := newTestEngine(t, llm, reg)

	rec, err := te.engine.ProcessTurn(context.Background(), "run both")
	require.NoError(t, err)
	assert.Equal(t, "both done", rec.AgentText)
	assert.Equal(t, 1, rec.Depth)
	require.Len(t, rec.ToolCalls, 2)
	assert.Equal(t, "alpha", rec.ToolCalls[0].Name)
	assert.Equal(t, "beta", rec.ToolCalls[1].Name)

	// The second request carries exactly one user message answering both
	// tool_use ids, in call order.
	require.Equal(t, 2, llm.requestCount())
	msgs := llm.request(1).Messages
	require.Len(t, msgs, 3)
	results := msgs[2].ToolResults
	require.Len(t, results, 2)
	assert.Equal(t, "tu_1", results[0].ToolUseID)
	assert.Equal(t, "alpha saw one", results[0].Content)
	assert.Equal(t, "tu_2", results[1].ToolUseID)
	assert.Equal(t, "beta saw two", results[1].Content)
	assert.False(t, results[0].IsError)
}

func TestToolFailureBecomesErrorResult(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "boom",
		Category: tools.CategoryCore,
		Schema:   tools.Schema{Properties: map[string]tools.Property{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", fmt.Errorf("%w: upstream kaput", tools.ErrExternalFailure)
		},
	}))

	llm := &mockLLM{queue: []*Completion{
		{ToolCalls: []ToolCall{{ID: "tu_1", Name: "boom", Input: map[string]any{}}}},
		{Text: "could not do that", StopReason: "end_turn"},
	}}
	te := newTestEngine(t, llm, reg)

	rec, err := te.engine.ProcessTurn(context.Background(), "try it")
	require.NoError(t, err)
	assert.Equal(t, "could not do that", rec.AgentText)

	results := llm.request(1).Messages[2].ToolResults
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "kaput")

	// The failed call is still recorded on the persisted exchange.
	recent, err := te.store.RecentExchanges(1)
	require.NoError(t, err)
	require.Len(t, recent[0].ToolCalls, 1)
	assert.Contains(t, recent[0].ToolCalls[0].ResultSummary, "kaput")
}

func TestTransientToolFailureRetriedOnce(t *testing.T) {
	var calls int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:     "flaky",
		Category: tools.CategoryCore,
		Schema:   tools.Schema{Properties: map[string]tools.Property{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "", fmt.Errorf("%w: connection reset", tools.ErrExternalFailure)
			}
			return "recovered", nil
		},
	}))

	llm := &mockLLM{queue: []*Completion{
		{ToolCalls: []ToolCall{{ID: "tu_1", Name: "flaky", Input: map[string]any{}}}},
		{Text: "done", StopReason: "end_turn"},
	}}
	te := newTestEngine(t, llm, reg)

	rec, err := te.engine.ProcessTurn(context.Background(), "try the flaky thing")
	require.NoError(t, err)
	assert.Equal(t, "done", rec.AgentText)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	results := llm.request(1).Messages[2].ToolResults
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "recovered", results[0].Content)
}

func TestToolDepthBound(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(echoTool("alpha")))

	llm := &mockLLM{repeat: &Completion{
		StopReason: "tool_use",
		ToolCalls:  []ToolCall{{ID: "tu_loop", Name: "alpha", Input: map[string]any{"x": "again"}}},
	}}
	te := newTestEngine(t, llm, reg)

	rec, err := te.engine.ProcessTurn(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, maxToolDepth, rec.Depth)
	assert.Equal(t, maxToolDepth+1, llm.requestCount())
	assert.Len(t, rec.ToolCalls, maxToolDepth)
	assert.Contains(t, rec.AgentText, "tool call limit")
}

func TestFactsStoredFromExchange(t *testing.T) {
	te := newTestEngine(t, &mockLLM{}, nil)

	rec, err := te.engine.ProcessTurn(context.Background(), "I prefer window seats on long flights")
	require.NoError(t, err)
	assert.Greater(t, rec.FactsStored, 0)

	prefs, err := te.store.FactsByType(facts.TypePreference, 10)
	require.NoError(t, err)
	require.NotEmpty(t, prefs)
	assert.Equal(t, rec.ExchangeID, prefs[0].EpisodeID)
	assert.Equal(t, te.engine.SessionID(), prefs[0].SessionID)
}

func TestMaintenanceSummarizesOverflow(t *testing.T) {
	llm := &mockLLM{}
	te := newTestEngine(t, llm, nil)

	// Fill the buffer past the low-pressure target of 35 live exchanges.
	for i := 0; i < 36; i++ {
		ex := &store.Exchange{
			SessionID: te.engine.SessionID(),
			UserText:  fmt.Sprintf("message %d", i),
			AgentText: "noted",
		}
		require.NoError(t, te.store.InsertExchange(ex))
		te.buffer.Append(ex)
	}

	_, err := te.engine.ProcessTurn(context.Background(), "one more thing")
	require.NoError(t, err)

	// 37 live minus the retained 22 leaves 15 eligible, split into two
	// batches of at most 10.
	assert.Equal(t, 2, llm.summarizeCalls)
	assert.Equal(t, 2, te.sums.Count())
	assert.Equal(t, 22, te.buffer.Len())

	// The summarized exchanges are flagged durably.
	oldest, err := te.store.ExchangeByID(1)
	require.NoError(t, err)
	assert.True(t, oldest.Summarized)
}

func TestAutonomousTurnFlagged(t *testing.T) {
	te := newTestEngine(t, &mockLLM{}, nil)

	_, err := te.engine.ProcessAutonomousTurn(context.Background(), "compile the morning digest")
	require.NoError(t, err)

	recent, err := te.store.RecentExchanges(1)
	require.NoError(t, err)
	assert.True(t, recent[0].Autonomous)
}
