// Package config holds all COCO configuration. Configuration is loaded from
// <workspace>/.coco/config.yaml with environment variable overrides, and is
// read-mostly after startup. Components receive the config (or a sub-config)
// at construction; there are no module-level singletons.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all COCO configuration.
type Config struct {
	// Workspace is the root directory for identity documents, databases,
	// and logs. Not serialized; set by the loader.
	Workspace string `yaml:"-"`

	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Facts     FactsConfig     `yaml:"facts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration defaults for a workspace.
func Default(workspace string) *Config {
	return &Config{
		Workspace: workspace,
		LLM:       DefaultLLMConfig(),
		Memory:    DefaultMemoryConfig(),
		Facts:     DefaultFactsConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Logging:   DefaultLoggingConfig(),
	}
}

// Load reads config.yaml from the workspace, applies defaults for missing
// fields, then applies environment overrides. A missing config file is not
// an error; defaults are used.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".coco", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Workspace = workspace
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the workspace config file.
func (c *Config) Save() error {
	dir := filepath.Join(c.Workspace, ".coco")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("COCO_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("COCO_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("COCO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks internal consistency of budget-related settings.
func (c *Config) Validate() error {
	m := c.Memory
	if m.ContextLimitTokens <= 0 {
		return fmt.Errorf("context_limit_tokens must be positive, got %d", m.ContextLimitTokens)
	}
	if m.ContextWarningTokens >= m.ContextCriticalTokens {
		return fmt.Errorf("context_warning_tokens (%d) must be below context_critical_tokens (%d)",
			m.ContextWarningTokens, m.ContextCriticalTokens)
	}
	if m.ContextCriticalTokens >= m.ContextLimitTokens {
		return fmt.Errorf("context_critical_tokens (%d) must be below context_limit_tokens (%d)",
			m.ContextCriticalTokens, m.ContextLimitTokens)
	}
	if m.BufferRollingCheckpoint <= 0 {
		return fmt.Errorf("buffer_rolling_checkpoint must be positive, got %d", m.BufferRollingCheckpoint)
	}
	if m.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", m.EmbeddingDim)
	}
	if c.Scheduler.TickSeconds <= 0 || c.Scheduler.TickSeconds > 60 {
		return fmt.Errorf("scheduler_tick_seconds must be in (0,60], got %d", c.Scheduler.TickSeconds)
	}
	return nil
}

// DatabasePath returns the path of the SQLite database inside the workspace.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Workspace, ".coco", "coco.db")
}
