package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mbakri/corvo/internal/observability"
	"github.com/mbakri/corvo/internal/tracing"
	"github.com/mbakri/corvo/pkg/dispatcher"
	"github.com/mbakri/corvo/pkg/mcp"
	"github.com/mbakri/corvo/pkg/provider"
)

// Runner executes agent runs against a provider registry and a tool
// dispatcher.
type Runner struct {
	providers  *provider.Registry
	dispatcher *dispatcher.Dispatcher
	memory     Memory
	retryer    provider.Retryer
	logger     zerolog.Logger

	// Active runs for abort capability.
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// RunnerConfig holds runner dependencies.
type RunnerConfig struct {
	Providers  *provider.Registry
	Dispatcher *dispatcher.Dispatcher
	Memory     Memory
	Retryer    *provider.Retryer
	Logger     zerolog.Logger
}

// NewRunner creates an agent runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	retryer := provider.NewRetryer()
	if cfg.Retryer != nil {
		retryer = *cfg.Retryer
	}
	retryer.Logger = cfg.Logger

	return &Runner{
		providers:  cfg.Providers,
		dispatcher: cfg.Dispatcher,
		memory:     cfg.Memory,
		retryer:    retryer,
		logger:     cfg.Logger,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// Run executes the loop until a terminal status. The error return is
// non-nil only for failed runs; cancelled and capped runs report their
// status in the Result alone.
func (r *Runner) Run(ctx context.Context, params RunParams) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := params.Config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if err := validateConfig(cfg); err != nil {
		return Result{}, fmt.Errorf("invalid configuration: %w", err)
	}

	sessionKey := params.SessionKey
	if sessionKey == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return Result{}, fmt.Errorf("failed to generate session key: %w", err)
		}
		sessionKey = generated
	}
	runID := tracing.NewRunID()

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithRunID(ctx, runID)
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"corvo.agent",
		"agent.run",
		attribute.String("session_key", sessionKey),
		attribute.String("provider", cfg.Provider),
		attribute.String("model", cfg.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Budget > 0 {
		var budgetCancel context.CancelFunc
		execCtx, budgetCancel = context.WithTimeout(execCtx, cfg.Budget)
		defer budgetCancel()
	}

	r.runsMu.Lock()
	r.activeRuns[sessionKey] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, sessionKey)
		r.runsMu.Unlock()
	}()

	observability.AddActiveRuns(1)
	start := time.Now()
	result, err := r.execute(execCtx, logger, cfg, params, sessionKey)
	observability.AddActiveRuns(-1)

	result.RunID = runID
	result.SessionKey = sessionKey
	observability.RecordAgentRun(string(result.Status), time.Since(start))
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("iterations", result.Iterations),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("status", string(result.Status)).Msg("Agent run failed")
		return result, err
	}
	logger.Info().
		Str("status", string(result.Status)).
		Int("iterations", result.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")
	return result, nil
}

// Abort cancels the active run for a session, if any.
func (r *Runner) Abort(sessionKey string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionKey]
	if !exists {
		r.logger.Debug().Str("session_key", sessionKey).Msg("No active run to abort")
		return
	}
	r.logger.Info().Str("session_key", sessionKey).Msg("Aborting agent run")
	cancel()
	delete(r.activeRuns, sessionKey)
}

// IsRunning reports whether a run is active for the session.
func (r *Runner) IsRunning(sessionKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()
	_, exists := r.activeRuns[sessionKey]
	return exists
}

// execute runs the provider/tool loop.
func (r *Runner) execute(ctx context.Context, logger zerolog.Logger, cfg Config, params RunParams, sessionKey string) (Result, error) {
	p, err := r.providers.Get(cfg.Provider)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}

	var tools []provider.ToolDefinition
	if p.SupportsTools() {
		tools = toolDefinitions(r.dispatcher.Catalog())
	}

	messages, err := r.loadHistory(ctx, sessionKey)
	if err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("failed to load history: %w", err)
	}
	userMsg := provider.Message{Role: "user", Content: params.Prompt}
	messages = append(messages, userMsg)
	if err := r.remember(ctx, sessionKey, userMsg); err != nil {
		return Result{Status: StatusFailed}, err
	}

	result := Result{Status: StatusFailed}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			return result, nil
		}
		result.Iterations = iteration

		req := provider.Request{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Messages:     messages,
			Tools:        tools,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		}

		resp, err := r.generate(ctx, p, req, params.OnDelta, cfg.Streaming)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = StatusCancelled
				return result, nil
			}
			var perr *provider.Error
			if errors.As(err, &perr) && perr.Retryable() {
				// Retries exhausted on a recoverable class. The failure
				// becomes conversation content so the model can adapt;
				// the loop stays bounded by the iteration cap.
				logger.Warn().
					Err(err).
					Str("class", perr.Class.String()).
					Msg("Provider call failed after retries, surfacing to model")
				note := provider.Message{
					Role: "user",
					Content: fmt.Sprintf("The %s call failed (%s): %v. Adjust your approach or answer with what you already have.",
						cfg.Provider, perr.Class, perr.Err),
				}
				messages = append(messages, note)
				if err := r.remember(ctx, sessionKey, note); err != nil {
					result.Status = StatusFailed
					return result, err
				}
				continue
			}
			result.Status = StatusFailed
			return result, err
		}
		result.Usage = result.Usage.Add(resp.Usage)

		if !resp.IsToolCall() {
			assistantMsg := provider.Message{Role: "assistant", Content: resp.Text}
			if err := r.remember(ctx, sessionKey, assistantMsg); err != nil {
				result.Status = StatusFailed
				return result, err
			}
			result.Status = StatusSuccess
			result.Response = resp.Text
			return result, nil
		}

		result.ToolCalls = append(result.ToolCalls, resp.ToolCalls...)

		// Tools requested on the last allowed iteration: stop without
		// executing them.
		if iteration == cfg.MaxIterations {
			logger.Warn().
				Int("max_iterations", cfg.MaxIterations).
				Int("pending_tool_calls", len(resp.ToolCalls)).
				Msg("Iteration cap reached with tools still requested")
			result.Status = StatusMaxIterations
			result.Response = resp.Text
			return result, nil
		}

		assistantMsg := provider.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}

		calls := make([]dispatcher.Call, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			calls[i] = dispatcher.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		toolResults, err := r.dispatcher.Dispatch(ctx, calls)
		if ctx.Err() != nil {
			// Cancelled mid-dispatch: whatever completed is discarded.
			result.Status = StatusCancelled
			return result, nil
		}
		if err != nil {
			result.Status = StatusFailed
			return result, err
		}

		toolMsgs := make([]provider.Message, len(toolResults))
		for i, res := range toolResults {
			toolMsgs[i] = provider.Message{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: res.CallID,
			}
		}

		messages = append(messages, assistantMsg)
		messages = append(messages, toolMsgs...)
		if err := r.remember(ctx, sessionKey, append([]provider.Message{assistantMsg}, toolMsgs...)...); err != nil {
			result.Status = StatusFailed
			return result, err
		}
	}

	result.Status = StatusMaxIterations
	return result, nil
}

// generate makes one provider call, streaming when the caller asked
// for deltas or enabled streaming outright.
func (r *Runner) generate(ctx context.Context, p provider.Provider, req provider.Request, onDelta func(string), streaming bool) (*provider.Response, error) {
	start := time.Now()
	var resp *provider.Response
	var err error

	if onDelta != nil || streaming {
		resp, err = r.retryer.DoStream(ctx, p.Name(), func() (*provider.Stream, error) {
			return p.GenerateStream(ctx, req)
		}, onDelta)
	} else {
		err = r.retryer.Do(ctx, p.Name(), func() error {
			var callErr error
			resp, callErr = p.Generate(ctx, req)
			return callErr
		})
	}

	status := "ok"
	if err != nil {
		status = "error"
		var perr *provider.Error
		if errors.As(err, &perr) {
			status = perr.Class.String()
		}
	}
	observability.RecordProviderCall(p.Name(), status, time.Since(start))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Runner) loadHistory(ctx context.Context, sessionKey string) ([]provider.Message, error) {
	if r.memory == nil {
		return nil, nil
	}
	return r.memory.History(ctx, sessionKey)
}

func (r *Runner) remember(ctx context.Context, sessionKey string, msgs ...provider.Message) error {
	if r.memory == nil {
		return nil
	}
	if err := r.memory.Append(ctx, sessionKey, msgs...); err != nil {
		return fmt.Errorf("failed to persist messages: %w", err)
	}
	return nil
}

// toolDefinitions converts the dispatcher catalog into provider tool
// definitions.
func toolDefinitions(catalog []mcp.Tool) []provider.ToolDefinition {
	if len(catalog) == 0 {
		return nil
	}
	defs := make([]provider.ToolDefinition, 0, len(catalog))
	for _, tool := range catalog {
		schema := map[string]interface{}{"type": "object"}
		if len(tool.InputSchema) > 0 {
			var parsed map[string]interface{}
			if err := json.Unmarshal(tool.InputSchema, &parsed); err == nil {
				schema = parsed
			}
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return defs
}
