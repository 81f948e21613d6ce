package engine

import (
	"fmt"
	"strings"
	"time"

	"coco/internal/config"
	coctx "coco/internal/context"
	"coco/internal/identity"
	"coco/internal/logging"
	"coco/internal/retrieval"
	"coco/internal/store"
)

// promptPreamble anchors every system prompt. Identity documents carry the
// personality; this block only explains the sections that follow.
const promptPreamble = `You are COCO, a personal assistant living in the user's terminal.
The sections below are your memory: identity documents, summaries of older
conversation, the recent conversation itself, relevant documents, and stored
facts. Use them; do not ask the user for information they contain.`

// PromptBuilder assembles the system prompt in fixed section order under the
// context budget, applying the emergency compression ladder when the
// assembled size crosses the warning and critical thresholds.
type PromptBuilder struct {
	memory    config.MemoryConfig
	facts     config.FactsConfig
	estimator *coctx.Estimator

	identity  *identity.Store
	summaries *coctx.SummaryBuffer
	buffer    *coctx.Buffer
	documents retrieval.DocumentIndex // nil when no document index is configured
	persist   *store.LocalStore
}

// NewPromptBuilder wires the memory systems into a builder.
func NewPromptBuilder(
	memory config.MemoryConfig,
	factsCfg config.FactsConfig,
	estimator *coctx.Estimator,
	ident *identity.Store,
	summaries *coctx.SummaryBuffer,
	buffer *coctx.Buffer,
	documents retrieval.DocumentIndex,
	persist *store.LocalStore,
) *PromptBuilder {
	if estimator == nil {
		estimator = coctx.NewEstimator()
	}
	return &PromptBuilder{
		memory:    memory,
		facts:     factsCfg,
		estimator: estimator,
		identity:  ident,
		summaries: summaries,
		buffer:    buffer,
		documents: documents,
		persist:   persist,
	}
}

// Prompt is the assembled system prompt plus the accounting the engine logs.
type Prompt struct {
	System        string
	Pressure      float64
	TokenEstimate int
	FactsInjected int
}

// factInjectionBudget caps the facts section.
const factInjectionBudget = 1000

// Build assembles the system prompt for one turn. Section order is fixed:
// identity, summaries, working memory, document context, facts. Identity is
// never dropped; everything after it shrinks under pressure.
func (b *PromptBuilder) Build(userText string, decision retrieval.Decision) (*Prompt, error) {
	limit := b.memory.ContextLimitTokens

	identityText, err := b.identityText()
	if err != nil {
		return nil, err
	}

	used := b.estimator.Estimate(promptPreamble) + b.estimator.Estimate(identityText)

	summaryText := ""
	if b.summaries != nil {
		summaryText = b.summaries.ContextText(b.memory.SummaryBudgetTokens)
		used += b.estimator.Estimate(summaryText)
	}

	// Pressure after the fixed sections decides how much working memory and
	// document context fit.
	pressure := float64(used) / float64(limit)

	workingText := ""
	if b.buffer != nil {
		target := coctx.TargetBufferSize(pressure)
		budget := b.workingBudget(target)
		workingText = b.buffer.ContextText(budget)
		used += b.estimator.Estimate(workingText)
		pressure = float64(used) / float64(limit)
	}

	documentText := ""
	if b.documents != nil {
		docBudget := b.documentBudget(pressure)
		documentText, err = b.documents.RelevantChunks(userText, docBudget)
		if err != nil {
			// Document context is advisory; a broken index never blocks a turn.
			logging.Engine("Document index failed, continuing without: %v", err)
			documentText = ""
		}
		used += b.estimator.Estimate(documentText)
	}

	factsText, injected := b.factsSection(userText, decision)
	used += b.estimator.Estimate(factsText)

	p := &Prompt{FactsInjected: injected}
	p.System = assemble(identityText, summaryText, workingText, documentText, factsText)
	p.TokenEstimate = b.estimator.Estimate(p.System)
	p.Pressure = float64(p.TokenEstimate) / float64(limit)

	// Emergency compression ladder: documents first, then summaries, then
	// working memory, then facts. Identity survives every rung.
	if p.TokenEstimate > b.memory.ContextWarningTokens && documentText != "" {
		logging.Engine("Context at %d tokens (warning %d): shrinking document context",
			p.TokenEstimate, b.memory.ContextWarningTokens)
		documentText = ""
		if b.documents != nil {
			documentText, _ = b.documents.RelevantChunks(userText, b.memory.DocumentBudgetLow)
		}
		p.System = assemble(identityText, summaryText, workingText, documentText, factsText)
		p.TokenEstimate = b.estimator.Estimate(p.System)
	}
	if p.TokenEstimate > b.memory.ContextCriticalTokens {
		logging.Engine("Context at %d tokens (critical %d): dropping documents, halving summaries",
			p.TokenEstimate, b.memory.ContextCriticalTokens)
		documentText = ""
		if b.summaries != nil {
			summaryText = b.summaries.ContextText(b.memory.SummaryBudgetTokens / 2)
		}
		p.System = assemble(identityText, summaryText, workingText, documentText, factsText)
		p.TokenEstimate = b.estimator.Estimate(p.System)
	}
	if p.TokenEstimate > b.memory.ContextCriticalTokens && b.buffer != nil {
		workingText = b.buffer.ContextText(b.workingBudget(coctx.TargetBufferSize(0.99)))
		p.System = assemble(identityText, summaryText, workingText, documentText, factsText)
		p.TokenEstimate = b.estimator.Estimate(p.System)
	}
	if p.TokenEstimate > b.memory.ContextCriticalTokens && factsText != "" {
		factsText = ""
		p.FactsInjected = 0
		p.System = assemble(identityText, summaryText, workingText, documentText, factsText)
		p.TokenEstimate = b.estimator.Estimate(p.System)
	}

	p.Pressure = float64(p.TokenEstimate) / float64(limit)
	logging.EngineDebug("Prompt assembled: %d tokens, pressure %.2f, %d facts",
		p.TokenEstimate, p.Pressure, p.FactsInjected)
	return p, nil
}

func (b *PromptBuilder) identityText() (string, error) {
	if b.identity == nil {
		return "", nil
	}
	docs, err := b.identity.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to read identity documents: %w", err)
	}
	sections := []struct {
		name string
		text string
	}{
		{identity.DocSelf, docs.Self},
		{identity.DocUserProfile, docs.UserProfile},
		{identity.DocPreferences, docs.Preferences},
	}

	var sb strings.Builder
	used := 0
	for _, sec := range sections {
		cost := b.estimator.Estimate(sec.text) + 10
		if used+cost > b.memory.IdentityBudgetTokens {
			logging.Engine("Identity budget exhausted, omitting %s", sec.name)
			continue
		}
		used += cost
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", sec.name, sec.text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// workingBudget converts a target exchange count into a token budget, using
// the average cost the estimator reports for recent exchanges.
func (b *PromptBuilder) workingBudget(targetExchanges int) int {
	const perExchange = 400 // generous per-exchange token allowance
	return targetExchanges * perExchange
}

func (b *PromptBuilder) documentBudget(pressure float64) int {
	switch {
	case pressure < 0.60:
		return b.memory.DocumentBudgetHigh
	case pressure < 0.75:
		return b.memory.DocumentBudgetMed
	default:
		return b.memory.DocumentBudgetLow
	}
}

// factsSection fetches and formats the auto-injected facts when the router
// is confident enough.
func (b *PromptBuilder) factsSection(userText string, decision retrieval.Decision) (string, int) {
	if b.persist == nil || decision.Confidence < b.facts.AutoInjectThreshold {
		return "", 0
	}
	matches, err := b.persist.SearchFacts(userText, b.facts.AutoInjectK, decision.SuggestedTypes)
	if err != nil || len(matches) == 0 {
		return "", 0
	}

	var sb strings.Builder
	sb.WriteString("Relevant facts from memory:\n")
	injected := 0
	for _, m := range matches {
		line := fmt.Sprintf("- [%s] %s (%s)\n", m.Fact.Type, m.Fact.Content, m.Fact.Timestamp.Format("2006-01-02"))
		if b.estimator.Estimate(sb.String())+b.estimator.Estimate(line) > factInjectionBudget {
			break
		}
		sb.WriteString(line)
		// Injection counts as access for importance promotion.
		_ = b.persist.TouchFact(m.Fact.ID)
		injected++
	}
	return sb.String(), injected
}

func assemble(identityText, summaryText, workingText, documentText, factsText string) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	fmt.Fprintf(&sb, "\n\nCurrent time: %s\n", time.Now().Format(time.RFC1123))
	if identityText != "" {
		sb.WriteString("\n## Identity\n\n" + identityText + "\n")
	}
	if summaryText != "" {
		sb.WriteString("\n## Conversation summaries\n\n" + summaryText)
	}
	if workingText != "" {
		sb.WriteString("\n## Recent conversation\n\n" + workingText)
	}
	if documentText != "" {
		sb.WriteString("\n## Documents\n\n" + documentText + "\n")
	}
	if factsText != "" {
		sb.WriteString("\n## Facts\n\n" + factsText)
	}
	return sb.String()
}
