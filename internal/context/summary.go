package context

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"coco/internal/logging"
	"coco/internal/store"
)

// DefaultSummaryBudget caps the summary text emitted into the system prompt,
// regardless of how many summaries exist.
const DefaultSummaryBudget = 5000

// summaryBatchSize groups exchanges into contiguous batches for the
// summarization LLM call.
const summaryBatchSize = 10

// SummarizeFunc produces a summary text from a prompt. Backed by the LLM's
// small model; injected so the buffer stays testable without a network.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// SummaryBuffer holds compressed rolling summaries of older exchanges.
// Summaries are never rewritten, only appended or evicted oldest-first.
type SummaryBuffer struct {
	mu        sync.Mutex
	summaries []*store.Summary
	estimator *Estimator
	persist   *store.LocalStore
	summarize SummarizeFunc
	budget    int
}

// NewSummaryBuffer creates a summary buffer backed by the durable store.
func NewSummaryBuffer(persist *store.LocalStore, estimator *Estimator, summarize SummarizeFunc, budget int) (*SummaryBuffer, error) {
	if estimator == nil {
		estimator = NewEstimator()
	}
	if budget <= 0 {
		budget = DefaultSummaryBudget
	}
	b := &SummaryBuffer{
		estimator: estimator,
		persist:   persist,
		summarize: summarize,
		budget:    budget,
	}
	if persist != nil {
		existing, err := persist.Summaries()
		if err != nil {
			return nil, fmt.Errorf("failed to load summaries: %w", err)
		}
		b.summaries = existing
	}
	return b, nil
}

// Count returns the number of live summaries.
func (b *SummaryBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.summaries)
}

// Summarize compresses a contiguous slice of exchanges into one summary and
// persists it. On failure the exchanges remain unsummarized; the caller
// retries the window on a later turn. Exchanges are never lost to a failed
// summarization.
func (b *SummaryBuffer) Summarize(ctx context.Context, exchanges []*store.Exchange) (*store.Summary, error) {
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("no exchanges to summarize")
	}
	if b.summarize == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}

	prompt := buildSummaryPrompt(exchanges)
	text, err := b.summarize(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	sum := &store.Summary{
		FirstExchangeID: exchanges[0].ID,
		LastExchangeID:  exchanges[len(exchanges)-1].ID,
		Text:            text,
		TokenEstimate:   b.estimator.Estimate(text),
	}
	if b.persist != nil {
		if err := b.persist.InsertSummary(sum); err != nil {
			return nil, fmt.Errorf("failed to persist summary: %w", err)
		}
	}

	b.mu.Lock()
	b.summaries = append(b.summaries, sum)
	b.mu.Unlock()

	logging.Context("Summarized exchanges %d..%d into %d tokens",
		sum.FirstExchangeID, sum.LastExchangeID, sum.TokenEstimate)
	return sum, nil
}

// Batches splits eligible exchanges into contiguous summarization batches.
func Batches(exchanges []*store.Exchange) [][]*store.Exchange {
	var out [][]*store.Exchange
	for len(exchanges) > 0 {
		n := summaryBatchSize
		if n > len(exchanges) {
			n = len(exchanges)
		}
		out = append(out, exchanges[:n])
		exchanges = exchanges[n:]
	}
	return out
}

// ContextText emits summaries oldest-first within the token budget. When the
// live set exceeds the budget, the oldest summaries are skipped (and pruned)
// first; the most recent summaries always survive.
func (b *SummaryBuffer) ContextText(maxTokens int) string {
	if maxTokens <= 0 || maxTokens > b.budget {
		maxTokens = b.budget
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Walk newest to oldest collecting what fits, then render oldest-first.
	used := 0
	start := len(b.summaries)
	for i := len(b.summaries) - 1; i >= 0; i-- {
		cost := b.summaries[i].TokenEstimate + 5
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}
	if start == len(b.summaries) {
		return ""
	}

	var sb strings.Builder
	for _, sum := range b.summaries[start:] {
		fmt.Fprintf(&sb, "[exchanges %d-%d] %s\n", sum.FirstExchangeID, sum.LastExchangeID, sum.Text)
	}
	return sb.String()
}

// Prune evicts oldest summaries until the live set fits maxTokens.
func (b *SummaryBuffer) Prune(maxTokens int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, sum := range b.summaries {
		total += sum.TokenEstimate
	}
	for total > maxTokens && len(b.summaries) > 1 {
		oldest := b.summaries[0]
		if b.persist != nil {
			if err := b.persist.DeleteSummary(oldest.ID); err != nil {
				return fmt.Errorf("failed to evict summary %d: %w", oldest.ID, err)
			}
		}
		total -= oldest.TokenEstimate
		b.summaries = b.summaries[1:]
		logging.ContextDebug("Evicted summary %d", oldest.ID)
	}
	return nil
}

func buildSummaryPrompt(exchanges []*store.Exchange) string {
	var sb strings.Builder
	sb.WriteString("Summarize these conversation exchanges in a compact paragraph. ")
	sb.WriteString("Preserve decisions, commitments, and user preferences. Drop pleasantries.\n\n")
	for _, ex := range exchanges {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", ex.UserText, ex.AgentText)
		for _, tc := range ex.ToolCalls {
			fmt.Fprintf(&sb, "(used %s: %s)\n", tc.Name, tc.ResultSummary)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
