package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mbakri/corvo/internal/observability"
	"github.com/mbakri/corvo/pkg/mcp"
)

// defaultConcurrency bounds how many tool calls of one batch run at once.
const defaultConcurrency = 10

// Call is one model-issued tool invocation.
type Call struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Result is the outcome of exactly one Call.
type Result struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// UnknownToolError escalates a call for which no session exists at all.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("no server registered for tool %q", e.Tool)
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds parallel tool execution within a batch.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher executes tool-call batches against routed MCP sessions.
type Dispatcher struct {
	router *Router
	limit  int
	logger zerolog.Logger
}

// New creates a Dispatcher over a routing table.
func New(router *Router, opts ...Option) *Dispatcher {
	observability.EnsureRegistered()
	d := &Dispatcher{
		router: router,
		limit:  defaultConcurrency,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog exposes the merged tool catalog for provider requests.
func (d *Dispatcher) Catalog() []mcp.Tool {
	return d.router.Catalog()
}

// Dispatch executes the batch and returns one Result per Call in
// issuance order. A tool with no route is fatal before anything runs;
// a transport or protocol failure aborts the batch; everything else
// becomes result content.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	for _, call := range calls {
		if _, ok := d.router.Resolve(call.Name); !ok {
			return nil, &UnknownToolError{Tool: call.Name}
		}
	}

	// Indexed slots keep issuance order no matter which call finishes
	// first.
	results := make([]Result, len(calls))
	errs := make([]error, len(calls))
	sem := make(chan struct{}, d.limit)
	var wg sync.WaitGroup

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-execCtx.Done():
				errs[i] = execCtx.Err()
				return
			}

			res, err := d.execute(execCtx, call)
			results[i] = res
			errs[i] = err
			if err != nil && !errors.Is(err, context.Canceled) {
				// Fatal error: stop the rest of the batch.
				cancel()
			}
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return results, err
		}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// execute runs one call. A nil error with IsError set means the model
// gets the failure as content.
func (d *Dispatcher) execute(ctx context.Context, call Call) (Result, error) {
	rt, ok := d.router.Resolve(call.Name)
	if !ok {
		return Result{}, &UnknownToolError{Tool: call.Name}
	}

	start := time.Now()
	logger := d.logger.With().Str("tool", call.Name).Str("call_id", call.ID).Logger()

	if state := rt.session.State(); state != mcp.StateReady {
		logger.Warn().Str("state", state.String()).Msg("Tool call on unavailable session")
		observability.RecordToolExecution(call.Name, "not_ready", time.Since(start))
		return errorResult(call, fmt.Sprintf("tool %s unavailable: server %s is %s", call.Name, rt.session.Name(), state)), nil
	}

	if rt.schema != nil {
		if msg, ok := validateArgs(rt.schema, call.Arguments); !ok {
			logger.Warn().Str("reason", msg).Msg("Tool arguments rejected by schema")
			observability.RecordToolExecution(call.Name, "invalid_args", time.Since(start))
			return errorResult(call, fmt.Sprintf("invalid arguments for %s: %s", call.Name, msg)), nil
		}
	}

	res, err := rt.session.CallTool(ctx, rt.toolName, call.Arguments)
	if err != nil {
		var toolErr *mcp.ToolError
		if errors.As(err, &toolErr) {
			logger.Warn().Err(toolErr).Msg("Tool call failed")
			status := "failure"
			if toolErr.Timeout() {
				status = "timeout"
			}
			observability.RecordToolExecution(call.Name, status, time.Since(start))
			return errorResult(call, toolErr.Error()), nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		logger.Error().Err(err).Msg("Tool call aborted by transport failure")
		observability.RecordToolExecution(call.Name, "transport_error", time.Since(start))
		return Result{}, err
	}

	observability.RecordToolExecution(call.Name, "ok", time.Since(start))
	logger.Debug().Dur("duration", time.Since(start)).Msg("Tool call completed")
	return Result{CallID: call.ID, Content: res.Text(), IsError: res.IsError}, nil
}

func errorResult(call Call, msg string) Result {
	return Result{CallID: call.ID, Content: msg, IsError: true}
}

// validateArgs checks the arguments document against the tool schema.
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) (string, bool) {
	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		// Validation machinery failure is not the model's fault; let the
		// server decide.
		return "", true
	}
	if res.Valid() {
		return "", true
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, desc := range res.Errors() {
		msgs = append(msgs, desc.String())
	}
	return strings.Join(msgs, "; "), false
}
