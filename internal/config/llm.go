package config

// LLMConfig configures the Anthropic LLM client.
type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// SummaryModel is used for exchange summarization. Summaries do not need
	// the main model's depth, so a smaller model keeps them cheap.
	SummaryModel string `yaml:"summary_model"`

	// TimeoutSeconds bounds a single Messages API call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DefaultLLMConfig returns the default LLM settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:          "claude-sonnet-4-20250514",
		SummaryModel:   "claude-3-5-haiku-latest",
		MaxTokens:      8192,
		TimeoutSeconds: 120,
	}
}
