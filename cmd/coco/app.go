package main

import (
	"fmt"
	"os"
	"path/filepath"

	"coco/internal/config"
	coctx "coco/internal/context"
	"coco/internal/embedding"
	"coco/internal/engine"
	"coco/internal/identity"
	"coco/internal/logging"
	"coco/internal/retrieval"
	"coco/internal/scheduler"
	"coco/internal/store"
	"coco/internal/tools"
	"coco/internal/tools/comms"
	"coco/internal/tools/core"
	"coco/internal/tools/media"
	"coco/internal/tools/research"
	"coco/internal/tools/shell"
	"coco/internal/tools/social"
)

// app wires every subsystem for one process. The LLM-dependent pieces
// (engine, summarizer) are nil when no API key is configured; commands that
// need them check and report.
type app struct {
	cfg       *config.Config
	persist   *store.LocalStore
	identity  *identity.Store
	estimator *coctx.Estimator
	buffer    *coctx.Buffer
	summaries *coctx.SummaryBuffer
	registry  *tools.Registry
	audit     *logging.AuditTrail

	llm       *engine.AnthropicClient
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
}

func newApp(workspace string) (*app, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspace = wd
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(workspace, cfg.Logging.DebugMode || debugFlag, cfg.Logging.Level); err != nil {
		return nil, err
	}

	persist, err := store.NewLocalStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	emb, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Memory.EmbeddingProvider,
		Dimensions:     cfg.Memory.EmbeddingDim,
		OllamaEndpoint: cfg.Memory.OllamaEndpoint,
		OllamaModel:    cfg.Memory.OllamaModel,
	})
	if err != nil {
		persist.Close()
		return nil, err
	}
	persist.SetEmbeddingEngine(emb)

	// Importance decay runs between sessions only, so startup is the one
	// place it is applied.
	if cfg.Facts.DecayHalfLifeDays > 0 {
		if err := persist.ApplyImportanceDecay(cfg.Facts.DecayHalfLifeDays); err != nil {
			logging.Store("Importance decay failed: %v", err)
		}
	}

	ident, err := identity.NewStore(workspace)
	if err != nil {
		persist.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		persist:   persist,
		identity:  ident,
		estimator: coctx.NewEstimator(),
		audit:     logging.NewAuditTrail(workspace),
	}

	a.buffer = coctx.NewBuffer(cfg.Memory.BufferRollingCheckpoint, a.estimator)
	tail, err := persist.RecentExchanges(cfg.Memory.BufferRollingCheckpoint)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.buffer.Rehydrate(tail)

	if a.registry, err = buildRegistry(workspace); err != nil {
		a.Close()
		return nil, err
	}

	var summarize coctx.SummarizeFunc
	var summarizer scheduler.Summarizer
	if cfg.LLM.APIKey != "" {
		a.llm, err = engine.NewAnthropicClient(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, err
		}
		summarize = a.llm.Summarize
		summarizer = a.llm
	}
	if a.summaries, err = coctx.NewSummaryBuffer(persist, a.estimator, summarize, cfg.Memory.SummaryBudgetTokens); err != nil {
		a.Close()
		return nil, err
	}

	if a.llm != nil {
		docIndex, err := retrieval.NewKeywordIndex(filepath.Join(workspace, "docs"), a.estimator)
		if err != nil {
			a.Close()
			return nil, err
		}
		prompt := engine.NewPromptBuilder(cfg.Memory, cfg.Facts, a.estimator,
			ident, a.summaries, a.buffer, docIndex, persist)
		a.engine, err = engine.New(engine.Options{
			Config:    cfg,
			LLM:       a.llm,
			Registry:  a.registry,
			Store:     persist,
			Buffer:    a.buffer,
			Summaries: a.summaries,
			Prompt:    prompt,
			Estimator: a.estimator,
			Audit:     a.audit,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.scheduler, err = scheduler.New(cfg.Scheduler, persist, a.registry, summarizer, a.audit); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func buildRegistry(workspace string) (*tools.Registry, error) {
	r := tools.NewRegistry()
	if err := core.RegisterAll(r, core.Config{Workspace: workspace}); err != nil {
		return nil, err
	}
	if err := shell.RegisterAll(r, shell.Config{Workspace: workspace}); err != nil {
		return nil, err
	}
	if err := research.RegisterAll(r, nil, workspace); err != nil {
		return nil, err
	}
	if err := comms.RegisterAll(r, workspace); err != nil {
		return nil, err
	}
	if err := media.RegisterAll(r, media.Config{Workspace: workspace}); err != nil {
		return nil, err
	}
	if err := social.RegisterAll(r, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// requireEngine reports a friendly error when no API key is configured.
func (a *app) requireEngine() error {
	if a.engine == nil {
		return fmt.Errorf("no Anthropic API key configured; set ANTHROPIC_API_KEY or llm.api_key in %s",
			filepath.Join(a.cfg.Workspace, ".coco", "config.yaml"))
	}
	return nil
}

func (a *app) Close() {
	if a.identity != nil {
		_ = a.identity.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.persist != nil {
		_ = a.persist.Close()
	}
	logging.Reset()
}
