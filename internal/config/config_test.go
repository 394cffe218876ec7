package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{{Provider: "anthropic", APIKey: "sk-test"}}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 10, cfg.Dispatcher.MaxConcurrency)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestValidateRequiresProfile(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI credentials")
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Profiles[0].Provider = "mistral"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Profiles[0].APIKey = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadMemoryBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.Backend = "redis"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory backend")
}

func TestValidateRejectsBadTemperature(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Temperature = 1.5
	require.Error(t, cfg.Validate())
}
