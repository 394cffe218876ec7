package cli

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbakri/corvo/internal/config"
	"github.com/mbakri/corvo/internal/logger"
	"github.com/mbakri/corvo/pkg/mcp"
	"github.com/mbakri/corvo/pkg/memory"
)

func TestBuildTransport(t *testing.T) {
	t.Run("stdio", func(t *testing.T) {
		transport, err := buildTransport(config.ServerConfig{
			Name:      "local",
			Transport: "stdio",
			Command:   "cat",
		}, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, transport)
		_ = transport.Close()
	})

	t.Run("http", func(t *testing.T) {
		transport, err := buildTransport(config.ServerConfig{
			Name:      "remote",
			Transport: "http",
			URL:       "http://127.0.0.1:9/rpc",
		}, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, transport)
		_ = transport.Close()
	})

	t.Run("unknown transport", func(t *testing.T) {
		_, err := buildTransport(config.ServerConfig{
			Name:      "bad",
			Transport: "carrier-pigeon",
		}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
	})
}

func TestConnectRetry(t *testing.T) {
	t.Run("transport errors retried with bounded attempts", func(t *testing.T) {
		attempts := 0
		_, err := connectRetry(context.Background(), zerolog.Nop(), "srv", 3, time.Millisecond, func() (*mcp.Session, error) {
			attempts++
			return nil, &mcp.TransportError{Op: "spawn", Err: errors.New("no such binary")}
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("succeeds after a transient failure", func(t *testing.T) {
		attempts := 0
		_, err := connectRetry(context.Background(), zerolog.Nop(), "srv", 3, time.Millisecond, func() (*mcp.Session, error) {
			attempts++
			if attempts == 1 {
				return nil, &mcp.TransportError{Op: "connect", Err: errors.New("connection refused")}
			}
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("non-transport errors fail fast", func(t *testing.T) {
		attempts := 0
		_, err := connectRetry(context.Background(), zerolog.Nop(), "srv", 3, time.Millisecond, func() (*mcp.Session, error) {
			attempts++
			return nil, errors.New("invalid call_timeout")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancellation stops the backoff wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		attempts := 0
		_, err := connectRetry(ctx, zerolog.Nop(), "srv", 3, time.Hour, func() (*mcp.Session, error) {
			attempts++
			return nil, &mcp.TransportError{Op: "connect", Err: errors.New("refused")}
		})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, attempts)
	})
}

func TestBuildStore(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	defer log.Close()

	t.Run("inmem", func(t *testing.T) {
		a := &app{cfg: &config.Config{Memory: config.MemoryConfig{Backend: "inmem"}}, log: log}
		require.NoError(t, a.buildStore())
		_, ok := a.store.(*memory.InMemoryStore)
		assert.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "transcripts.db")
		a := &app{cfg: &config.Config{Memory: config.MemoryConfig{Backend: "sqlite", DBPath: dbPath}}, log: log}
		require.NoError(t, a.buildStore())
		_, ok := a.store.(*memory.SQLiteStore)
		assert.True(t, ok)
		a.Close()
	})
}

func TestAgentConfigOverlay(t *testing.T) {
	a := &app{cfg: &config.Config{Agent: config.AgentConfig{
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-20250514",
		Temperature:   0.7,
		MaxTokens:     4096,
		MaxIterations: 10,
	}}}

	t.Run("defaults pass through", func(t *testing.T) {
		cfg := agentConfig(a, "", "", false, 0)
		assert.Equal(t, "anthropic", cfg.Provider)
		assert.Equal(t, "claude-sonnet-4-20250514", cfg.Model)
		assert.Equal(t, 10, cfg.MaxIterations)
		assert.False(t, cfg.Streaming)
	})

	t.Run("flags override", func(t *testing.T) {
		cfg := agentConfig(a, "openai", "gpt-4o", true, 3)
		assert.Equal(t, "openai", cfg.Provider)
		assert.Equal(t, "gpt-4o", cfg.Model)
		assert.Equal(t, 3, cfg.MaxIterations)
		assert.True(t, cfg.Streaming)
	})
}
