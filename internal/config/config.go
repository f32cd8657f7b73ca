// Package config loads valet's configuration from env files, a JSON config
// file and environment variables, in that order of increasing precedence.
package config

import (
	"os"
	"path/filepath"
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Model     ModelConfig     `json:"model"`
	Provider  ProviderConfig  `json:"provider"`
	Autonomy  AutonomyConfig  `json:"autonomy"`
	Journal   JournalConfig   `json:"journal"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Paths     PathsConfig     `json:"paths"`
	Channels  ChannelsConfig  `json:"channels"`
}

// ModelConfig controls the LLM call parameters.
type ModelConfig struct {
	Name              string `json:"name" envconfig:"VALET_MODEL"`
	MaxToolIterations int    `json:"max_tool_iterations" envconfig:"VALET_MAX_TOOL_ITERATIONS"`
	MaxTokens         int    `json:"max_tokens" envconfig:"VALET_MAX_TOKENS"`
	MaxHistory        int    `json:"max_history" envconfig:"VALET_MAX_HISTORY"`
}

// ProviderConfig selects the OpenAI-compatible endpoint.
type ProviderConfig struct {
	APIKey  string `json:"api_key" envconfig:"VALET_API_KEY"`
	APIBase string `json:"api_base" envconfig:"VALET_API_BASE"`
}

// AutonomyConfig sets the initial approval policy.
type AutonomyConfig struct {
	Level                  string `json:"level" envconfig:"VALET_AUTONOMY_LEVEL"`
	ApprovalTimeoutSeconds int    `json:"approval_timeout_seconds" envconfig:"VALET_APPROVAL_TIMEOUT_SECONDS"`
}

// JournalConfig bounds the operational-event ring buffer.
type JournalConfig struct {
	Capacity int `json:"capacity" envconfig:"VALET_JOURNAL_CAPACITY"`
}

// SchedulerConfig controls the task poller.
type SchedulerConfig struct {
	Enabled       bool `json:"enabled" envconfig:"VALET_SCHEDULER_ENABLED"`
	TickSeconds   int  `json:"tick_seconds" envconfig:"VALET_SCHEDULER_TICK_SECONDS"`
	BatchSize     int  `json:"batch_size" envconfig:"VALET_SCHEDULER_BATCH_SIZE"`
	RatePerMinute int  `json:"rate_per_minute" envconfig:"VALET_SCHEDULER_RATE_PER_MINUTE"`
}

// PathsConfig locates valet's on-disk state.
type PathsConfig struct {
	Home      string `json:"home" envconfig:"VALET_HOME"`
	Workspace string `json:"workspace" envconfig:"VALET_WORKSPACE"`
	TaskDB    string `json:"task_db" envconfig:"VALET_TASK_DB"`
	Sessions  string `json:"sessions" envconfig:"VALET_SESSIONS_DIR"`
	LockFile  string `json:"lock_file" envconfig:"VALET_LOCK_FILE"`
}

// ChannelsConfig configures the transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Enabled    bool    `json:"enabled" envconfig:"VALET_TELEGRAM_ENABLED"`
	Token      string  `json:"token" envconfig:"VALET_TELEGRAM_TOKEN"`
	AllowedIDs []int64 `json:"allowed_ids" envconfig:"VALET_TELEGRAM_ALLOWED_IDS"`
}

// DefaultHome returns the valet state directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".valet"
	}
	return filepath.Join(home, ".valet")
}

// applyDefaults fills unset values and clamps nonsense.
func (c *Config) applyDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4o"
	}
	if c.Model.MaxToolIterations <= 0 {
		c.Model.MaxToolIterations = 25
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.MaxHistory <= 0 {
		c.Model.MaxHistory = 100
	}
	if c.Autonomy.Level == "" {
		c.Autonomy.Level = "balanced"
	}
	if c.Autonomy.ApprovalTimeoutSeconds <= 0 {
		c.Autonomy.ApprovalTimeoutSeconds = 300
	}
	if c.Journal.Capacity <= 0 {
		c.Journal.Capacity = 200
	}
	if c.Scheduler.TickSeconds <= 0 {
		c.Scheduler.TickSeconds = 2
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 10
	}
	if c.Scheduler.RatePerMinute <= 0 {
		c.Scheduler.RatePerMinute = 30
	}
	if c.Paths.Home == "" {
		c.Paths.Home = DefaultHome()
	}
	if c.Paths.Workspace == "" {
		c.Paths.Workspace = filepath.Join(c.Paths.Home, "workspace")
	}
	if c.Paths.TaskDB == "" {
		c.Paths.TaskDB = filepath.Join(c.Paths.Home, "tasks.db")
	}
	if c.Paths.Sessions == "" {
		c.Paths.Sessions = filepath.Join(c.Paths.Home, "sessions")
	}
	if c.Paths.LockFile == "" {
		c.Paths.LockFile = filepath.Join(c.Paths.Home, "scheduler.lock")
	}
}
