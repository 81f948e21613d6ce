package context

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/store"
)

func newSummaryFixture(t *testing.T, fn SummarizeFunc) (*SummaryBuffer, *store.LocalStore) {
	t.Helper()
	s, err := store.NewLocalStore(filepath.Join(t.TempDir(), "coco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b, err := NewSummaryBuffer(s, nil, fn, 0)
	require.NoError(t, err)
	return b, s
}

func TestSummarizePersistsAndAppends(t *testing.T) {
	b, s := newSummaryFixture(t, func(_ context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, "decisions, commitments, and user preferences")
		return "they planned the launch", nil
	})

	exchanges := []*store.Exchange{
		makeExchange(1, "when do we launch", "friday"),
		makeExchange(2, "book the room", "done"),
	}
	sum, err := b.Summarize(context.Background(), exchanges)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.FirstExchangeID)
	assert.EqualValues(t, 2, sum.LastExchangeID)
	assert.Equal(t, 1, b.Count())

	persisted, err := s.Summaries()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "they planned the launch", persisted[0].Text)
}

func TestSummarizeFailureLosesNothing(t *testing.T) {
	b, s := newSummaryFixture(t, func(context.Context, string) (string, error) {
		return "", errors.New("llm unavailable")
	})

	_, err := b.Summarize(context.Background(), []*store.Exchange{makeExchange(1, "u", "a")})
	require.Error(t, err)
	assert.Zero(t, b.Count())

	persisted, err := s.Summaries()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestBatchesGroupsOfTen(t *testing.T) {
	var exchanges []*store.Exchange
	for i := 1; i <= 23; i++ {
		exchanges = append(exchanges, makeExchange(int64(i), "u", "a"))
	}
	batches := Batches(exchanges)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 3)
	assert.EqualValues(t, 11, batches[1][0].ID)
}

func TestContextTextBudgetKeepsNewest(t *testing.T) {
	b, _ := newSummaryFixture(t, func(_ context.Context, prompt string) (string, error) {
		return prompt[:50], nil
	})

	for i := 0; i < 5; i++ {
		ex := makeExchange(int64(i*10+1), fmt.Sprintf("topic %d discussion with plenty of words", i), "noted")
		_, err := b.Summarize(context.Background(), []*store.Exchange{ex})
		require.NoError(t, err)
	}

	full := b.ContextText(5000)
	assert.NotEmpty(t, full)

	tiny := b.ContextText(40)
	if tiny != "" {
		// The newest summary survives tight budgets.
		assert.Contains(t, tiny, fmt.Sprintf("[exchanges %d-%d]", 41, 41))
	}
}

func TestPruneEvictsOldestFirst(t *testing.T) {
	b, s := newSummaryFixture(t, func(_ context.Context, _ string) (string, error) {
		return "a summary of reasonable length for testing eviction order", nil
	})

	for i := 1; i <= 4; i++ {
		_, err := b.Summarize(context.Background(), []*store.Exchange{makeExchange(int64(i), "u", "a")})
		require.NoError(t, err)
	}

	require.NoError(t, b.Prune(30))
	assert.Less(t, b.Count(), 4)

	persisted, err := s.Summaries()
	require.NoError(t, err)
	require.NotEmpty(t, persisted)
	// The newest summary is never evicted.
	assert.EqualValues(t, 4, persisted[len(persisted)-1].FirstExchangeID)
}

func TestSummaryLoadedOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coco.db")
	s, err := store.NewLocalStore(path)
	require.NoError(t, err)

	b1, err := NewSummaryBuffer(s, nil, func(context.Context, string) (string, error) {
		return "persisted summary", nil
	}, 0)
	require.NoError(t, err)
	_, err = b1.Summarize(context.Background(), []*store.Exchange{makeExchange(1, "u", "a")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := store.NewLocalStore(path)
	require.NoError(t, err)
	defer s2.Close()
	b2, err := NewSummaryBuffer(s2, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, b2.Count())
}
