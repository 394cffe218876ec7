package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main Corvo configuration.
type Config struct {
	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent defaults applied when a run does not override them
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Dispatcher settings
	Dispatcher DispatcherConfig `json:"dispatcher" mapstructure:"dispatcher"`

	// MCP server manifest path (servers.yaml)
	ServersPath string `json:"servers_path" mapstructure:"servers_path"`

	// Memory (transcript persistence) settings
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Logging settings
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint settings
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents one provider credential.
type AIProfile struct {
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// AgentConfig holds agent loop defaults.
type AgentConfig struct {
	Provider      string  `json:"provider" mapstructure:"provider"`
	Model         string  `json:"model" mapstructure:"model"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	Streaming     bool    `json:"streaming" mapstructure:"streaming"`
}

// DispatcherConfig bounds tool execution.
type DispatcherConfig struct {
	MaxConcurrency int `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// MemoryConfig holds transcript store settings.
type MemoryConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // sqlite, inmem
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{Profiles: []AIProfile{}},
		Agent: AgentConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-20250514",
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxIterations: 10,
		},
		Dispatcher: DispatcherConfig{MaxConcurrency: 10},
		Memory: MemoryConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	for i, profile := range c.AI.Profiles {
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %d: provider is required", i)
		}
		switch profile.Provider {
		case "anthropic", "openai", "gemini":
		default:
			return fmt.Errorf("AI profile %d: invalid provider %s (must be: anthropic, openai, gemini)", i, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %d (%s): api_key is required", i, profile.Provider)
		}
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent max_iterations cannot be negative")
	}
	if c.Dispatcher.MaxConcurrency < 0 {
		return fmt.Errorf("dispatcher max_concurrency cannot be negative")
	}

	switch c.Memory.Backend {
	case "", "sqlite", "inmem":
	default:
		return fmt.Errorf("invalid memory backend %s (must be: sqlite, inmem)", c.Memory.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}
	return nil
}
