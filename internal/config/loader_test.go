package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Memory.DBPath)
	assert.NotEmpty(t, cfg.ServersPath)
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corvo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  provider: openai
  model: gpt-4o
  max_iterations: 5
dispatcher:
  max_concurrency: 4
memory:
  backend: inmem
logging:
  level: debug
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "gpt-4o", cfg.Agent.Model)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 4, cfg.Dispatcher.MaxConcurrency)
	assert.Equal(t, "inmem", cfg.Memory.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.7, cfg.Agent.Temperature)
}

func TestLoadPicksUpAPIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.AI.Profiles)
	assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
	assert.Equal(t, "sk-from-env", cfg.AI.Profiles[0].APIKey)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corvo.yaml")
	cfg := DefaultConfig()
	cfg.Agent.Model = "saved-model"
	cfg.AI.Profiles = []AIProfile{{Provider: "anthropic", APIKey: "sk-x"}}
	require.NoError(t, NewLoader(path).Save(cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.Agent.Model)
	require.Len(t, loaded.AI.Profiles, 1)
	assert.Equal(t, "anthropic", loaded.AI.Profiles[0].Provider)
}
