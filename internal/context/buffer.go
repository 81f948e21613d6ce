package context

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"coco/internal/logging"
	"coco/internal/store"
)

// Pressure tier boundaries: the ratio of used tokens to the context limit
// after system prompt, identity, and summaries are assembled.
const (
	pressureLow      = 0.60
	pressureMedium   = 0.75
	pressureHigh     = 0.85
	targetLow        = 35
	targetMedium     = 25
	targetHigh       = 20
	targetCritical   = 15
	DefaultRetention = 22 // most-recent exchanges always kept live
)

// TargetBufferSize maps context pressure to the target number of live
// exchanges. Higher pressure shrinks working memory.
func TargetBufferSize(pressure float64) int {
	switch {
	case pressure < pressureLow:
		return targetLow
	case pressure < pressureMedium:
		return targetMedium
	case pressure < pressureHigh:
		return targetHigh
	default:
		return targetCritical
	}
}

// Buffer is the bounded, ordered collection of live exchanges. The durable
// store holds every exchange; the buffer holds the unsummarized tail that is
// rendered into working memory each turn.
type Buffer struct {
	mu        sync.Mutex
	exchanges []*store.Exchange
	estimator *Estimator

	// retention is the rolling checkpoint: this many most-recent exchanges
	// are never eligible for summarization, which prevents the buffer from
	// oscillating around the pressure target.
	retention int
}

// NewBuffer creates an episodic buffer with the given rolling checkpoint.
func NewBuffer(retention int, estimator *Estimator) *Buffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if estimator == nil {
		estimator = NewEstimator()
	}
	return &Buffer{retention: retention, estimator: estimator}
}

// Rehydrate loads previously-live exchanges, oldest first. Called once at
// startup before any Append.
func (b *Buffer) Rehydrate(exchanges []*store.Exchange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges = append([]*store.Exchange(nil), exchanges...)
	logging.Context("Rehydrated buffer with %d exchanges", len(exchanges))
}

// Append adds a completed exchange to the live buffer.
func (b *Buffer) Append(ex *store.Exchange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges = append(b.exchanges, ex)
}

// Len returns the number of live exchanges.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.exchanges)
}

// Live returns a snapshot of the live exchanges in id order.
func (b *Buffer) Live() []*store.Exchange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*store.Exchange(nil), b.exchanges...)
}

// ContextText renders working memory up to maxTokens. Exchanges are chosen
// newest-first until the budget is exhausted, then emitted in chronological
// order. An exchange is included whole or not at all; text is never truncated
// inside an exchange.
func (b *Buffer) ContextText(maxTokens int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.exchanges) == 0 || maxTokens <= 0 {
		return ""
	}

	used := 0
	start := len(b.exchanges)
	for i := len(b.exchanges) - 1; i >= 0; i-- {
		cost := b.exchangeTokens(b.exchanges[i])
		if used+cost > maxTokens && start < len(b.exchanges) {
			break
		}
		if used+cost > maxTokens {
			// Not even the newest exchange fits; emit nothing rather than a
			// truncated exchange.
			return ""
		}
		used += cost
		start = i
	}

	var sb strings.Builder
	for _, ex := range b.exchanges[start:] {
		renderExchange(&sb, ex)
	}
	return sb.String()
}

func renderExchange(sb *strings.Builder, ex *store.Exchange) {
	stamp := ex.CreatedAt.Format(time.RFC3339)
	if ex.Autonomous {
		fmt.Fprintf(sb, "[%s] (autonomous)\n", stamp)
	} else {
		fmt.Fprintf(sb, "[%s]\n", stamp)
	}
	if ex.UserText != "" {
		fmt.Fprintf(sb, "User: %s\n", ex.UserText)
	}
	for _, tc := range ex.ToolCalls {
		fmt.Fprintf(sb, "Tool %s: %s\n", tc.Name, tc.ResultSummary)
	}
	fmt.Fprintf(sb, "COCO: %s\n\n", ex.AgentText)
}

func (b *Buffer) exchangeTokens(ex *store.Exchange) int {
	if ex.TokenEstimate > 0 {
		return ex.TokenEstimate + 10 // formatting overhead
	}
	total := b.estimator.Estimate(ex.UserText) + b.estimator.Estimate(ex.AgentText) + 10
	for _, tc := range ex.ToolCalls {
		total += b.estimator.Estimate(tc.ResultSummary)
	}
	return total
}

// EligibleForSummary returns the oldest exchanges beyond the pressure target,
// never touching the most recent retention-many. Returns nil when the buffer
// is within target.
func (b *Buffer) EligibleForSummary(target int) []*store.Exchange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.exchanges) <= target {
		return nil
	}
	eligible := len(b.exchanges) - b.retention
	if eligible <= 0 {
		return nil
	}
	out := make([]*store.Exchange, eligible)
	copy(out, b.exchanges[:eligible])
	return out
}

// MarkSummarized removes the given exchange ids from the live buffer and
// flips their summarized flag. After this call no id from ids remains live.
func (b *Buffer) MarkSummarized(ids []int64) {
	if len(ids) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := b.exchanges[:0]
	for _, ex := range b.exchanges {
		if drop[ex.ID] {
			ex.Summarized = true
			continue
		}
		kept = append(kept, ex)
	}
	b.exchanges = kept
	logging.ContextDebug("Buffer now holds %d live exchanges after summarization", len(kept))
}
