package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbakri/corvo/pkg/mcp"
)

// fakeSession scripts one MCP server for dispatcher tests.
type fakeSession struct {
	name  string
	state mcp.State
	tools []mcp.Tool

	mu    sync.Mutex
	calls []string

	callFn func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

func (f *fakeSession) Name() string      { return f.name }
func (f *fakeSession) State() mcp.State  { return f.state }
func (f *fakeSession) Tools() []mcp.Tool { return f.tools }

func (f *fakeSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callFn != nil {
		return f.callFn(ctx, name, args)
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ok:" + name}}}, nil
}

func echoTool(name string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: "test tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`),
	}
}

func newTestDispatcher(t *testing.T, sessions ...*fakeSession) (*Dispatcher, *Router) {
	t.Helper()
	router := NewRouter()
	for _, sess := range sessions {
		_, err := router.Register(sess)
		require.NoError(t, err)
	}
	return New(router), router
}

func TestDispatchOneResultPerCall(t *testing.T) {
	sess := &fakeSession{name: "srv", state: mcp.StateReady, tools: []mcp.Tool{echoTool("echo"), echoTool("time")}}
	d, _ := newTestDispatcher(t, sess)

	calls := []Call{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}},
		{ID: "2", Name: "time", Arguments: map[string]interface{}{"msg": "b"}},
		{ID: "3", Name: "echo", Arguments: map[string]interface{}{"msg": "c"}},
	}

	results, err := d.Dispatch(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, len(calls))
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.CallID)
		assert.False(t, res.IsError)
	}
}

func TestDispatchIssuanceOrderIndependentOfCompletion(t *testing.T) {
	// The first call sleeps so the second completes first; results must
	// still come back as {call 1, call 2}.
	sess := &fakeSession{
		name:  "srv",
		state: mcp.StateReady,
		tools: []mcp.Tool{echoTool("slow"), echoTool("fast")},
		callFn: func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
			if name == "slow" {
				time.Sleep(100 * time.Millisecond)
			}
			return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: name}}}, nil
		},
	}
	d, _ := newTestDispatcher(t, sess)

	results, err := d.Dispatch(context.Background(), []Call{
		{ID: "1", Name: "slow", Arguments: map[string]interface{}{"msg": "x"}},
		{ID: "2", Name: "fast", Arguments: map[string]interface{}{"msg": "y"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].CallID)
	assert.Equal(t, "slow", results[0].Content)
	assert.Equal(t, "2", results[1].CallID)
	assert.Equal(t, "fast", results[1].Content)
}

func TestDispatchUnknownToolIsFatal(t *testing.T) {
	sess := &fakeSession{name: "srv", state: mcp.StateReady, tools: []mcp.Tool{echoTool("echo")}}
	d, _ := newTestDispatcher(t, sess)

	_, err := d.Dispatch(context.Background(), []Call{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}},
		{ID: "2", Name: "no_such_tool"},
	})
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no_such_tool", unknown.Tool)

	// Fatal before anything runs: the known tool was not called either.
	sess.mu.Lock()
	assert.Empty(t, sess.calls)
	sess.mu.Unlock()
}

func TestDispatchNotReadySessionBecomesResult(t *testing.T) {
	sess := &fakeSession{name: "srv", state: mcp.StateClosed, tools: []mcp.Tool{echoTool("echo")}}
	d, _ := newTestDispatcher(t, sess)

	results, err := d.Dispatch(context.Background(), []Call{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "closed")
}

func TestDispatchToolErrorBecomesResult(t *testing.T) {
	sess := &fakeSession{
		name:  "srv",
		state: mcp.StateReady,
		tools: []mcp.Tool{echoTool("echo")},
		callFn: func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
			return nil, &mcp.ToolError{Kind: mcp.ToolTimeout, Tool: name}
		},
	}
	d, _ := newTestDispatcher(t, sess)

	results, err := d.Dispatch(context.Background(), []Call{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "timed out")
}

func TestDispatchTransportErrorAbortsBatch(t *testing.T) {
	sess := &fakeSession{
		name:  "srv",
		state: mcp.StateReady,
		tools: []mcp.Tool{echoTool("echo")},
		callFn: func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
			return nil, &mcp.TransportError{Op: "recv", Err: mcp.ErrTransportClosed}
		},
	}
	d, _ := newTestDispatcher(t, sess)

	_, err := d.Dispatch(context.Background(), []Call{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}}})
	var trErr *mcp.TransportError
	require.ErrorAs(t, err, &trErr)
}

func TestDispatchSchemaValidation(t *testing.T) {
	sess := &fakeSession{name: "srv", state: mcp.StateReady, tools: []mcp.Tool{echoTool("echo")}}
	d, _ := newTestDispatcher(t, sess)

	// Missing required "msg": rejected before the wire.
	results, err := d.Dispatch(context.Background(), []Call{{ID: "1", Name: "echo", Arguments: map[string]interface{}{}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "invalid arguments")

	sess.mu.Lock()
	assert.Empty(t, sess.calls, "invalid call must not reach the server")
	sess.mu.Unlock()
}

func TestDispatchConcurrencyBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	sess := &fakeSession{
		name:  "srv",
		state: mcp.StateReady,
		tools: []mcp.Tool{echoTool("echo")},
		callFn: func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return &mcp.CallToolResult{}, nil
		},
	}
	router := NewRouter()
	_, err := router.Register(sess)
	require.NoError(t, err)
	d := New(router, WithConcurrency(2))

	calls := make([]Call, 6)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprint(i), Name: "echo", Arguments: map[string]interface{}{"msg": "x"}}
	}
	results, err := d.Dispatch(context.Background(), calls)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchCancellation(t *testing.T) {
	sess := &fakeSession{
		name:  "srv",
		state: mcp.StateReady,
		tools: []mcp.Tool{echoTool("echo")},
		callFn: func(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &mcp.CallToolResult{}, nil
			}
		},
	}
	d, _ := newTestDispatcher(t, sess)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx, []Call{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"msg": "a"}},
		{ID: "2", Name: "echo", Arguments: map[string]interface{}{"msg": "b"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must resolve within a bounded grace period")
}

func TestRouterDuplicateNamesPrefixed(t *testing.T) {
	a := &fakeSession{name: "alpha", state: mcp.StateReady, tools: []mcp.Tool{echoTool("echo")}}
	b := &fakeSession{name: "beta", state: mcp.StateReady, tools: []mcp.Tool{echoTool("echo")}}

	router := NewRouter()
	names, err := router.Register(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, names)

	names, err = router.Register(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta_echo"}, names)

	catalog := router.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "echo", catalog[0].Name)
	assert.Equal(t, "beta_echo", catalog[1].Name)

	// The alias still calls the original name on its own server.
	d := New(router)
	results, err := d.Dispatch(context.Background(), []Call{{ID: "1", Name: "beta_echo", Arguments: map[string]interface{}{"msg": "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok:echo", results[0].Content)

	b.mu.Lock()
	assert.Equal(t, []string{"echo"}, b.calls)
	b.mu.Unlock()
}
