package config

// LoggingConfig controls the categorized file logging system.
type LoggingConfig struct {
	// DebugMode enables log file output. When false, logging is a no-op.
	DebugMode bool `yaml:"debug_mode"`

	// Level is the minimum level written: debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultLoggingConfig returns the default logging settings.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		DebugMode: false,
		Level:     "info",
	}
}
