// Package config loads the bot configuration from YAML with .env
// loading, environment variable expansion, and keyring-backed secret
// resolution.
package config

import (
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/agent"
	"github.com/wabotdev/wabot/pkg/wabot/bot"
	"github.com/wabotdev/wabot/pkg/wabot/channels/whatsapp"
	"github.com/wabotdev/wabot/pkg/wabot/llm"
	"github.com/wabotdev/wabot/pkg/wabot/media"
	"github.com/wabotdev/wabot/pkg/wabot/state"
	"github.com/wabotdev/wabot/pkg/wabot/tools"
)

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Bot      bot.Config      `yaml:"bot"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Agent    agent.Config    `yaml:"agent"`
	LLM      llm.Config      `yaml:"llm"`
	Search   SearchConfig    `yaml:"search"`
	State    StateConfig     `yaml:"state"`
	Media    media.Config    `yaml:"media"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// SearchConfig controls the web search tool.
type SearchConfig struct {
	// Enabled exposes web search to the agent.
	Enabled bool `yaml:"enabled"`

	Tavily tools.TavilyConfig `yaml:",inline"`
}

// StateConfig selects and configures the conversation store.
type StateConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	// TTL is the sliding conversation expiry window.
	TTL time.Duration `yaml:"ttl"`

	Redis state.RedisConfig `yaml:"redis"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		WhatsApp: whatsapp.DefaultConfig(),
		Agent: agent.Config{
			Enabled:  true,
			MaxSteps: llm.DefaultMaxSteps,
		},
		LLM: llm.Config{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxRetries: 2,
		},
		State: StateConfig{
			Backend: "memory",
			TTL:     state.DefaultTTL,
		},
		Media: media.DefaultConfig(),
	}
}
