package context

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/store"
)

func makeExchange(id int64, user, agent string) *store.Exchange {
	return &store.Exchange{
		ID:        id,
		CreatedAt: time.Date(2025, 11, 1, 9, 0, int(id), 0, time.UTC),
		UserText:  user,
		AgentText: agent,
	}
}

func fillBuffer(b *Buffer, n int) {
	for i := 1; i <= n; i++ {
		b.Append(makeExchange(int64(i), fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i)))
	}
}

func TestTargetBufferSizeTiers(t *testing.T) {
	tests := []struct {
		pressure float64
		want     int
	}{
		{0.10, 35},
		{0.59, 35},
		{0.60, 25},
		{0.74, 25},
		{0.75, 20},
		{0.84, 20},
		{0.85, 15},
		{0.99, 15},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TargetBufferSize(tc.pressure), "pressure %.2f", tc.pressure)
	}
}

func TestEligibleForSummaryRetainsCheckpoint(t *testing.T) {
	b := NewBuffer(22, nil)
	fillBuffer(b, 40)

	eligible := b.EligibleForSummary(20)
	// 40 live, retention 22: only the oldest 18 may be summarized.
	require.Len(t, eligible, 18)
	assert.EqualValues(t, 1, eligible[0].ID)
	assert.EqualValues(t, 18, eligible[17].ID)
}

func TestEligibleForSummaryEmptyWithinTarget(t *testing.T) {
	b := NewBuffer(22, nil)
	fillBuffer(b, 20)
	assert.Nil(t, b.EligibleForSummary(25))
}

func TestMarkSummarizedRemovesFromLive(t *testing.T) {
	b := NewBuffer(22, nil)
	fillBuffer(b, 30)

	b.MarkSummarized([]int64{1, 2, 3})

	assert.Equal(t, 27, b.Len())
	for _, ex := range b.Live() {
		assert.NotContains(t, []int64{1, 2, 3}, ex.ID)
	}
}

func TestContextTextKeepsWholeExchanges(t *testing.T) {
	b := NewBuffer(22, nil)
	fillBuffer(b, 5)

	// A generous budget includes everything, oldest first.
	text := b.ContextText(100000)
	assert.Contains(t, text, "question 1")
	assert.Contains(t, text, "question 5")
	assert.Less(t, indexOf(text, "question 1"), indexOf(text, "question 5"))

	// A tight budget keeps only the newest exchanges, never a fragment.
	tight := b.ContextText(30)
	if tight != "" {
		assert.Contains(t, tight, "question 5")
		assert.NotContains(t, tight, "question 1")
	}
}

func TestContextTextNewestPreferred(t *testing.T) {
	b := NewBuffer(22, nil)
	fillBuffer(b, 50)

	text := b.ContextText(400)
	require.NotEmpty(t, text)
	assert.Contains(t, text, "question 50", "newest exchange always included first")
}

func TestRehydrate(t *testing.T) {
	b := NewBuffer(22, nil)
	b.Rehydrate([]*store.Exchange{makeExchange(7, "restored", "yes")})
	require.Equal(t, 1, b.Len())
	assert.EqualValues(t, 7, b.Live()[0].ID)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
