package config

// MemoryConfig configures the context window, buffers, and embedding engine.
type MemoryConfig struct {
	// Context window thresholds (tokens).
	ContextLimitTokens    int `yaml:"context_limit_tokens"`
	ContextWarningTokens  int `yaml:"context_warning_tokens"`
	ContextCriticalTokens int `yaml:"context_critical_tokens"`

	// Episodic buffer: minimum number of most-recent exchanges always kept
	// live regardless of pressure.
	BufferRollingCheckpoint int `yaml:"buffer_rolling_checkpoint"`

	// Summary buffer budget (tokens emitted into the system prompt).
	SummaryBudgetTokens int `yaml:"summary_budget_tokens"`

	// Document context budgets by pressure tier (tokens).
	DocumentBudgetLow  int `yaml:"document_budget_low"`
	DocumentBudgetMed  int `yaml:"document_budget_med"`
	DocumentBudgetHigh int `yaml:"document_budget_high"`

	// Identity documents ceiling (tokens).
	IdentityBudgetTokens int `yaml:"identity_budget_tokens"`

	// Embedding vector dimensionality. Fixed per deployment; changing it
	// requires re-embedding the semantic store.
	EmbeddingDim int `yaml:"embedding_dim"`

	// Embedding provider: "hash" (default, local) or "ollama".
	EmbeddingProvider string `yaml:"embedding_provider"`
	OllamaEndpoint    string `yaml:"ollama_endpoint"`
	OllamaModel       string `yaml:"ollama_model"`
}

// DefaultMemoryConfig returns the default memory settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ContextLimitTokens:      200000,
		ContextWarningTokens:    140000,
		ContextCriticalTokens:   160000,
		BufferRollingCheckpoint: 22,
		SummaryBudgetTokens:     5000,
		DocumentBudgetLow:       5000,
		DocumentBudgetMed:       10000,
		DocumentBudgetHigh:      20000,
		IdentityBudgetTokens:    8000,
		EmbeddingDim:            128,
		EmbeddingProvider:       "hash",
		OllamaEndpoint:          "http://localhost:11434",
		OllamaModel:             "embeddinggemma",
	}
}

// FactsConfig configures the facts store and auto-injection.
type FactsConfig struct {
	// AutoInjectThreshold is the router confidence at which matching facts
	// are injected into the system prompt automatically.
	AutoInjectThreshold float64 `yaml:"autoinject_threshold"`

	// AutoInjectK is how many facts are injected.
	AutoInjectK int `yaml:"autoinject_k"`

	// DecayHalfLifeDays enables importance decay between sessions when > 0.
	// Decay never runs within a session.
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days"`
}

// DefaultFactsConfig returns the default facts settings.
func DefaultFactsConfig() FactsConfig {
	return FactsConfig{
		AutoInjectThreshold: 0.6,
		AutoInjectK:         5,
		DecayHalfLifeDays:   0,
	}
}
