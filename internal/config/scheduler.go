package config

import "time"

// SchedulerConfig configures the autonomous scheduler.
type SchedulerConfig struct {
	// TickSeconds is the background worker tick interval. Must be <= 60.
	TickSeconds int `yaml:"tick_seconds"`

	// TaskTimeoutSeconds is the default per-template timeout.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`

	// TaskHardTimeoutSeconds is the wall-clock cap beyond which a run is
	// recorded as an error regardless of template behavior.
	TaskHardTimeoutSeconds int `yaml:"task_hard_timeout_seconds"`

	// Timezone for schedule interpretation, IANA name. Empty means local.
	Timezone string `yaml:"timezone"`
}

// DefaultSchedulerConfig returns the default scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickSeconds:            60,
		TaskTimeoutSeconds:     300,
		TaskHardTimeoutSeconds: 900,
	}
}

// Tick returns the tick interval as a duration.
func (c SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// TaskTimeout returns the default per-template timeout as a duration.
func (c SchedulerConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// TaskHardTimeout returns the hard wall-clock timeout as a duration.
func (c SchedulerConfig) TaskHardTimeout() time.Duration {
	return time.Duration(c.TaskHardTimeoutSeconds) * time.Second
}
