package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbakri/corvo/internal/config"
	"github.com/mbakri/corvo/internal/logger"
	"github.com/mbakri/corvo/pkg/agent"
	"github.com/mbakri/corvo/pkg/dispatcher"
	"github.com/mbakri/corvo/pkg/mcp"
	"github.com/mbakri/corvo/pkg/memory"
	"github.com/mbakri/corvo/pkg/provider"
)

// app wires the configured stack: providers, MCP sessions, dispatcher,
// transcript store, and the agent runner. Built per command invocation
// and torn down by Close.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *provider.Registry
	sessions []*mcp.Session
	router   *dispatcher.Router
	disp     *dispatcher.Dispatcher
	store    agent.Memory
	runner   *agent.Runner

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp assembles the runtime from configuration and connects every
// server in the manifest. Callers must Close the returned app.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, log.Close)

	if err := a.buildProviders(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectServers(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildStore(); err != nil {
		a.Close()
		return nil, err
	}

	a.disp = dispatcher.New(a.router,
		dispatcher.WithConcurrency(cfg.Dispatcher.MaxConcurrency),
		dispatcher.WithLogger(log.GetZerolog()),
	)

	runner, err := agent.NewRunner(agent.RunnerConfig{
		Providers:  a.registry,
		Dispatcher: a.disp,
		Memory:     a.store,
		Logger:     log.GetZerolog(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = runner

	return a, nil
}

// Close tears down sessions, then the store and logger in reverse
// construction order.
func (a *app) Close() {
	for _, sess := range a.sessions {
		_ = sess.Close()
	}
	a.sessions = nil
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (a *app) buildProviders() error {
	a.registry = provider.NewRegistry()
	for _, profile := range a.cfg.AI.Profiles {
		var p provider.Provider
		switch profile.Provider {
		case "anthropic":
			p = provider.NewAnthropicProvider(profile.APIKey)
		case "openai":
			p = provider.NewOpenAIProvider(profile.APIKey)
		case "gemini":
			p = provider.NewGeminiProvider(profile.APIKey)
		default:
			return fmt.Errorf("unknown provider %s", profile.Provider)
		}
		if err := a.registry.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// connectServers loads the manifest, opens one session per server, and
// registers each catalog with the router. A server that fails to come
// up is logged and skipped so one bad entry does not take the whole
// runtime down.
func (a *app) connectServers(ctx context.Context) error {
	if a.router == nil {
		a.router = dispatcher.NewRouter()
	}

	servers, err := config.LoadServers(a.cfg.ServersPath)
	if err != nil {
		return fmt.Errorf("failed to load server manifest: %w", err)
	}

	for _, sc := range servers {
		sess, err := connectRetry(ctx, a.log.GetZerolog(), sc.Name, connectAttempts, connectBaseDelay, func() (*mcp.Session, error) {
			return a.connectServer(ctx, sc)
		})
		if err != nil {
			a.log.Warn().Err(err).Str("server", sc.Name).Msg("skipping MCP server")
			continue
		}
		a.sessions = append(a.sessions, sess)

		names, err := a.router.Register(sess)
		if err != nil {
			a.log.Warn().Err(err).Str("server", sc.Name).Msg("failed to register tools")
			continue
		}
		a.log.Info().Str("server", sc.Name).Strs("tools", names).Msg("MCP server connected")
	}
	return nil
}

const (
	connectAttempts  = 3
	connectBaseDelay = time.Second
)

// connectRetry retries connection establishment with bounded
// exponential backoff. Only transport-level failures are retried;
// config and protocol errors fail fast.
func connectRetry(ctx context.Context, log zerolog.Logger, server string, attempts int, base time.Duration, connect func() (*mcp.Session, error)) (*mcp.Session, error) {
	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Warn().
				Err(lastErr).
				Str("server", server).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying MCP server connection")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		sess, err := connect()
		if err == nil {
			return sess, nil
		}
		lastErr = err

		var terr *mcp.TransportError
		if !errors.As(err, &terr) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (a *app) connectServer(ctx context.Context, sc config.ServerConfig) (*mcp.Session, error) {
	transport, err := buildTransport(sc, a.log.GetZerolog())
	if err != nil {
		return nil, err
	}

	opts := []mcp.SessionOption{mcp.WithLogger(a.log.GetZerolog())}
	if sc.CallTimeout != "" {
		d, err := sc.Timeout()
		if err != nil {
			_ = transport.Close()
			return nil, err
		}
		opts = append(opts, mcp.WithCallTimeout(d))
	}
	if sc.MaxInFlight > 0 {
		opts = append(opts, mcp.WithMaxInFlight(sc.MaxInFlight))
	}

	sess := mcp.NewSession(sc.Name, transport, opts...)
	if err := sess.Initialize(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}
	if _, err := sess.ListTools(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

func buildTransport(sc config.ServerConfig, log zerolog.Logger) (mcp.Transport, error) {
	switch sc.Transport {
	case "stdio":
		return mcp.NewStdioTransport(sc.Command, sc.Args,
			mcp.WithStdioLogger(log),
			mcp.WithStdioEnv(sc.EnvList()),
		)
	case "sse":
		return mcp.NewSSETransport(sc.URL,
			mcp.WithSSEHeaders(sc.Headers),
			mcp.WithSSELogger(log),
		)
	case "http":
		return mcp.NewHTTPTransport(sc.URL, mcp.WithHTTPHeaders(sc.Headers)), nil
	default:
		return nil, fmt.Errorf("unknown transport %s for server %s", sc.Transport, sc.Name)
	}
}

func (a *app) buildStore() error {
	switch a.cfg.Memory.Backend {
	case "inmem":
		a.store = memory.NewInMemoryStore()
	default:
		store, err := memory.NewSQLiteStore(a.cfg.Memory.DBPath, a.log.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

// reconnectServers rebuilds every session and the routing table after
// the server manifest changes.
func (a *app) reconnectServers(ctx context.Context) error {
	for _, sess := range a.sessions {
		_ = sess.Close()
	}
	a.sessions = nil
	a.router.Reset()

	return a.connectServers(ctx)
}
