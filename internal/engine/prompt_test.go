package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/config"
	coctx "coco/internal/context"
	"coco/internal/facts"
	"coco/internal/identity"
	"coco/internal/retrieval"
	"coco/internal/store"
)

func newTestStore(t *testing.T) *store.LocalStore {
	t.Helper()
	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPromptContainsRecentConversation(t *testing.T) {
	est := coctx.NewEstimator()
	buf := coctx.NewBuffer(22, est)
	buf.Append(&store.Exchange{ID: 1, UserText: "planning a trip to Lisbon", AgentText: "noted, looking at flights"})

	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), est, nil, nil, buf, nil, nil)
	p, err := pb.Build("any update?", retrieval.Decision{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p.System, promptPreamble))
	assert.Contains(t, p.System, "Current time:")
	assert.Contains(t, p.System, "## Recent conversation")
	assert.Contains(t, p.System, "planning a trip to Lisbon")
	assert.Greater(t, p.TokenEstimate, 0)
}

func TestFactsInjectedOnConfidentRoute(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddFact(&facts.Fact{
		Type:       facts.TypeAppointment,
		Content:    "dentist appointment Tuesday 3pm",
		Importance: 0.8,
	}))

	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), coctx.NewEstimator(), nil, nil, nil, nil, st)

	decision := retrieval.Route("when is my dentist appointment")
	require.GreaterOrEqual(t, decision.Confidence, 0.6)

	p, err := pb.Build("when is my dentist appointment", decision)
	require.NoError(t, err)
	assert.Greater(t, p.FactsInjected, 0)
	assert.Contains(t, p.System, "## Facts")
	assert.Contains(t, p.System, "dentist appointment Tuesday 3pm")
}

func TestNoFactsBelowConfidenceThreshold(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddFact(&facts.Fact{
		Type:       facts.TypeNote,
		Content:    "goroutines are cheap",
		Importance: 0.5,
	}))

	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), coctx.NewEstimator(), nil, nil, nil, nil, st)

	decision := retrieval.Route("explain goroutine scheduling please")
	p, err := pb.Build("explain goroutine scheduling please", decision)
	require.NoError(t, err)
	assert.Zero(t, p.FactsInjected)
	assert.NotContains(t, p.System, "## Facts")
}

func TestInjectionCountsAsAccess(t *testing.T) {
	st := newTestStore(t)
	f := &facts.Fact{Type: facts.TypeAppointment, Content: "dentist appointment Friday", Importance: 0.8}
	require.NoError(t, st.AddFact(f))

	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), coctx.NewEstimator(), nil, nil, nil, nil, st)
	decision := retrieval.Route("when is my dentist appointment")
	_, err := pb.Build("when is my dentist appointment", decision)
	require.NoError(t, err)

	matches, err := st.SearchFacts("dentist appointment", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Greater(t, matches[0].Fact.AccessCount, 0)
}

func TestFactsInjectedCountStopsAtBudget(t *testing.T) {
	st := newTestStore(t)
	long := strings.Repeat("dentist appointment planning notes ", 80)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AddFact(&facts.Fact{
			Type:       facts.TypeAppointment,
			Content:    fmt.Sprintf("%s entry %d", long, i),
			Importance: 0.8,
		}))
	}

	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), coctx.NewEstimator(), nil, nil, nil, nil, st)
	decision := retrieval.Route("when is my dentist appointment")
	require.GreaterOrEqual(t, decision.Confidence, 0.6)

	p, err := pb.Build("when is my dentist appointment", decision)
	require.NoError(t, err)

	// Only one of the five matches fits the injection budget; the count
	// reports what was formatted, not what was retrieved.
	assert.Equal(t, 1, p.FactsInjected)

	// Promotion tracks the same cutoff: exactly one fact was touched.
	matches, err := st.SearchFacts("dentist appointment", 5, nil)
	require.NoError(t, err)
	touched := 0
	for _, m := range matches {
		if m.Fact.AccessCount > 0 {
			touched++
		}
	}
	assert.Equal(t, 1, touched)
}

func TestIdentitySurvivesEmergencyCompression(t *testing.T) {
	ident, err := identity.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ident.Close() })

	est := coctx.NewEstimator()
	buf := coctx.NewBuffer(22, est)
	long := strings.Repeat("the meeting covered quarterly planning in detail ", 60)
	for i := int64(1); i <= 30; i++ {
		buf.Append(&store.Exchange{ID: i, UserText: long, AgentText: long})
	}

	mem := config.DefaultMemoryConfig()
	mem.ContextWarningTokens = 40
	mem.ContextCriticalTokens = 60

	pb := NewPromptBuilder(mem, config.DefaultFactsConfig(), est, ident, nil, buf, nil, nil)
	p, err := pb.Build("status?", retrieval.Decision{})
	require.NoError(t, err)

	// Every rung of the ladder fired, but identity is still there.
	assert.Contains(t, p.System, "## Identity")
	assert.NotContains(t, p.System, "## Documents")
}

type failingIndex struct{}

func (failingIndex) RelevantChunks(string, int) (string, error) {
	return "", errors.New("index corrupted")
}

func TestBrokenDocumentIndexNeverBlocksTurn(t *testing.T) {
	pb := NewPromptBuilder(config.DefaultMemoryConfig(), config.DefaultFactsConfig(), coctx.NewEstimator(), nil, nil, nil, failingIndex{}, nil)
	p, err := pb.Build("hello", retrieval.Decision{})
	require.NoError(t, err)
	assert.NotContains(t, p.System, "## Documents")
}
