package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"coco/internal/config"
	coctx "coco/internal/context"
	"coco/internal/facts"
	"coco/internal/logging"
	"coco/internal/retrieval"
	"coco/internal/store"
	"coco/internal/tools"
)

// maxToolDepth bounds the assistant/tool round trips in one turn. A model
// that keeps requesting tools past this depth gets error results and must
// answer with what it has.
const maxToolDepth = 5

// maxParallelTools bounds concurrent tool execution within one round.
const maxParallelTools = 4

// Engine runs the turn loop: assemble context, call the model, execute tool
// calls, persist the exchange, extract facts, and compress memory. One turn
// is in flight at a time; the scheduler and the REPL share an engine.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Config
	llm       LLMClient
	registry  *tools.Registry
	persist   *store.LocalStore
	buffer    *coctx.Buffer
	summaries *coctx.SummaryBuffer
	prompt    *PromptBuilder
	estimator *coctx.Estimator
	audit     *logging.AuditTrail

	sessionID string
}

// Options carries the engine's collaborators. All fields except Registry and
// Audit are required.
type Options struct {
	Config    *config.Config
	LLM       LLMClient
	Registry  *tools.Registry
	Store     *store.LocalStore
	Buffer    *coctx.Buffer
	Summaries *coctx.SummaryBuffer
	Prompt    *PromptBuilder
	Estimator *coctx.Estimator
	Audit     *logging.AuditTrail
	SessionID string
}

// New assembles an engine. A missing session id gets a fresh UUID.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("engine requires a config")
	case opts.LLM == nil:
		return nil, fmt.Errorf("engine requires an LLM client")
	case opts.Store == nil:
		return nil, fmt.Errorf("engine requires a store")
	case opts.Prompt == nil:
		return nil, fmt.Errorf("engine requires a prompt builder")
	}
	if opts.Estimator == nil {
		opts.Estimator = coctx.NewEstimator()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	return &Engine{
		cfg:       opts.Config,
		llm:       opts.LLM,
		registry:  opts.Registry,
		persist:   opts.Store,
		buffer:    opts.Buffer,
		summaries: opts.Summaries,
		prompt:    opts.Prompt,
		estimator: opts.Estimator,
		audit:     opts.Audit,
		sessionID: opts.SessionID,
	}, nil
}

// SessionID returns the engine's session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// TurnRecord is the accounting for one completed turn.
type TurnRecord struct {
	ExchangeID int64
	UserText   string
	AgentText  string
	ToolCalls  []store.ToolCall
	Depth      int

	Pressure      float64
	PromptTokens  int
	InputTokens   int64
	OutputTokens  int64
	FactsInjected int
	FactsStored   int
	Elapsed       time.Duration
}

// ProcessTurn runs one interactive turn for the given user message.
func (e *Engine) ProcessTurn(ctx context.Context, userText string) (*TurnRecord, error) {
	return e.processTurn(ctx, userText, false)
}

// ProcessAutonomousTurn runs one turn on behalf of a scheduled task. The
// exchange is flagged autonomous so recall can tell it apart from
// conversation the user actually had.
func (e *Engine) ProcessAutonomousTurn(ctx context.Context, userText string) (*TurnRecord, error) {
	return e.processTurn(ctx, userText, true)
}

func (e *Engine) processTurn(ctx context.Context, userText string, autonomous bool) (*TurnRecord, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, fmt.Errorf("empty user message")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.auditRecord(logging.AuditTurnStart, userText, map[string]any{"autonomous": autonomous})

	decision := retrieval.Route(userText)
	prompt, err := e.prompt.Build(userText, decision)
	if err != nil {
		return nil, fmt.Errorf("context assembly failed: %w", err)
	}

	rec := &TurnRecord{
		UserText:      userText,
		Pressure:      prompt.Pressure,
		PromptTokens:  prompt.TokenEstimate,
		FactsInjected: prompt.FactsInjected,
	}

	transcript := NewTranscript(userText)
	var schemas []tools.LLMSchema
	if e.registry != nil {
		schemas = e.registry.SchemasForLLM()
	}

	for depth := 0; ; depth++ {
		comp, err := e.llm.Complete(ctx, CompletionRequest{
			System:    prompt.System,
			Messages:  transcript.Messages(),
			Tools:     schemas,
			MaxTokens: int64(e.cfg.LLM.MaxTokens),
		})
		if err != nil {
			e.auditRecord(logging.AuditLLMError, userText, map[string]any{"error": err.Error()})
			return nil, err
		}
		rec.InputTokens += comp.InputTokens
		rec.OutputTokens += comp.OutputTokens
		rec.Depth = depth

		if err := transcript.AddAssistant(comp); err != nil {
			return nil, fmt.Errorf("transcript violation: %w", err)
		}
		if len(comp.ToolCalls) == 0 {
			rec.AgentText = comp.Text
			break
		}

		if depth >= maxToolDepth {
			logging.Engine("Tool depth limit (%d) reached, refusing further calls", maxToolDepth)
			err := transcript.ResolveToolCalls(comp.ToolCalls, func(ToolCall) (string, bool) {
				return "tool call limit reached for this turn; answer with what you have", true
			})
			if err != nil {
				return nil, fmt.Errorf("transcript violation: %w", err)
			}
			rec.AgentText = comp.Text
			if rec.AgentText == "" {
				rec.AgentText = "I hit the tool call limit for this turn before I could finish."
			}
			break
		}

		results, recorded := e.executeCalls(ctx, comp.ToolCalls)
		rec.ToolCalls = append(rec.ToolCalls, recorded...)
		if err := transcript.AddToolResults(results); err != nil {
			return nil, fmt.Errorf("transcript violation: %w", err)
		}
	}

	// Everything past this point is bookkeeping; a failure there is logged
	// and never loses the response the user already earned.
	ex, err := e.persistExchange(rec, autonomous)
	if err != nil {
		logging.Engine("Failed to persist exchange: %v", err)
	} else {
		rec.ExchangeID = ex.ID
		rec.FactsStored = e.extractFacts(rec, ex)
		e.storeSemantic(ctx, rec)
	}
	e.maintain(ctx, rec.Pressure)

	rec.Elapsed = time.Since(start)
	e.auditRecord(logging.AuditTurnEnd, userText, map[string]any{
		"exchange_id": rec.ExchangeID,
		"depth":       rec.Depth,
		"tool_calls":  len(rec.ToolCalls),
		"facts":       rec.FactsStored,
		"elapsed_ms":  rec.Elapsed.Milliseconds(),
	})
	logging.Engine("Turn done: depth=%d tools=%d facts=%d pressure=%.2f (%s)",
		rec.Depth, len(rec.ToolCalls), rec.FactsStored, rec.Pressure,
		rec.Elapsed.Round(time.Millisecond))
	return rec, nil
}

// executeCalls dispatches every tool call from one assistant message. Calls
// run concurrently but results keep the call order, and a failed call turns
// into an error result rather than aborting its siblings.
func (e *Engine) executeCalls(ctx context.Context, calls []ToolCall) ([]ToolResult, []store.ToolCall) {
	results := make([]ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			e.auditRecord(logging.AuditToolInvoke, call.Name, map[string]any{"id": call.ID})
			res := e.registry.Dispatch(ctx, call.Name, call.Input)
			if !res.OK && res.ErrorKind == tools.KindExternalFailure {
				// Transient upstream failures get one retry per turn.
				logging.Engine("Tool %s failed transiently, retrying once: %s", call.Name, res.ErrorMessage)
				res = e.registry.Dispatch(ctx, call.Name, call.Input)
			}
			if res.OK {
				results[i] = ToolResult{ToolUseID: call.ID, Content: res.Value}
				e.auditRecord(logging.AuditToolComplete, call.Name, map[string]any{"elapsed_ms": res.ElapsedMs})
			} else {
				results[i] = ToolResult{ToolUseID: call.ID, Content: res.ErrorMessage, IsError: true}
				e.auditRecord(logging.AuditToolError, call.Name, map[string]any{
					"kind": string(res.ErrorKind), "error": res.ErrorMessage,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	recorded := make([]store.ToolCall, len(calls))
	for i, call := range calls {
		recorded[i] = store.ToolCall{
			Name:          call.Name,
			Input:         call.Input,
			ResultSummary: clipSummary(results[i].Content),
		}
	}
	return results, recorded
}

func (e *Engine) persistExchange(rec *TurnRecord, autonomous bool) (*store.Exchange, error) {
	ex := &store.Exchange{
		SessionID:     e.sessionID,
		UserText:      rec.UserText,
		AgentText:     rec.AgentText,
		ToolCalls:     rec.ToolCalls,
		TokenEstimate: e.estimator.Estimate(rec.UserText) + e.estimator.Estimate(rec.AgentText),
		Autonomous:    autonomous,
	}
	if err := e.persist.InsertExchange(ex); err != nil {
		return nil, err
	}
	if e.buffer != nil {
		e.buffer.Append(ex)
	}
	return ex, nil
}

// extractFacts mines the finished exchange and its tool calls, then stores
// whatever survived deduplication. Extraction failures cost the facts, never
// the turn.
func (e *Engine) extractFacts(rec *TurnRecord, ex *store.Exchange) int {
	mined := facts.ExtractFromExchange(rec.UserText, rec.AgentText)
	for _, call := range rec.ToolCalls {
		mined = append(mined, facts.ExtractFromTool(facts.ToolInvocation{
			Name:          call.Name,
			Input:         call.Input,
			ResultSummary: call.ResultSummary,
		})...)
	}

	stored := 0
	for _, f := range mined {
		f.EpisodeID = ex.ID
		f.SessionID = e.sessionID
		if err := e.persist.AddFact(f); err != nil {
			logging.Facts("Failed to store %s fact: %v", f.Type, err)
			continue
		}
		stored++
	}
	if stored > 0 {
		e.auditRecord(logging.AuditMemoryStore, fmt.Sprintf("exchange %d", ex.ID), map[string]any{"facts": stored})
	}
	return stored
}

// storeSemantic writes the exchange gist into the semantic store so later
// sessions can recall it by meaning rather than keyword.
func (e *Engine) storeSemantic(ctx context.Context, rec *TurnRecord) {
	gist := fmt.Sprintf("User: %s\nCOCO: %s", clipSummary(rec.UserText), clipSummary(rec.AgentText))
	if err := e.persist.AddSemantic(ctx, gist, 0.5); err != nil {
		logging.Engine("Failed to store semantic entry: %v", err)
	}
}

// maintain runs end-of-turn memory compression: summarize the exchanges the
// pressure target pushed out of working memory, then prune old summaries back
// under budget. A failed batch stays live and is retried next turn.
func (e *Engine) maintain(ctx context.Context, pressure float64) {
	if e.buffer == nil || e.summaries == nil {
		return
	}
	eligible := e.buffer.EligibleForSummary(coctx.TargetBufferSize(pressure))
	if len(eligible) == 0 {
		return
	}

	for _, batch := range coctx.Batches(eligible) {
		sum, err := e.summaries.Summarize(ctx, batch)
		if err != nil {
			logging.Engine("Summarization failed, exchanges stay live: %v", err)
			break
		}
		ids := make([]int64, len(batch))
		for i, ex := range batch {
			ids[i] = ex.ID
		}
		e.buffer.MarkSummarized(ids)
		if err := e.persist.MarkExchangesSummarized(ids); err != nil {
			logging.Engine("Failed to flag exchanges summarized: %v", err)
		}
		e.auditRecord(logging.AuditSummarize, fmt.Sprintf("summary %d", sum.ID), map[string]any{
			"first": sum.FirstExchangeID, "last": sum.LastExchangeID, "tokens": sum.TokenEstimate,
		})
	}
	if err := e.summaries.Prune(e.cfg.Memory.SummaryBudgetTokens); err != nil {
		logging.Engine("Summary prune failed: %v", err)
	}
}

func (e *Engine) auditRecord(t logging.AuditEventType, subject string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(t, e.sessionID, clipSummary(subject), detail)
}

// clipSummary bounds free text stored in audit events and tool call records.
func clipSummary(s string) string {
	const max = 300
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
