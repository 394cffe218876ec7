package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbakri/corvo/internal/observability"
)

// State is the session lifecycle state. Closed and Error are terminal.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport moves JSON-RPC frames between client and server. The three
// bindings (stdio, SSE, HTTP) all satisfy this contract.
type Transport interface {
	// Send writes one request frame. Safe for concurrent use.
	Send(ctx context.Context, frame []byte) error
	// Frames delivers server-to-client frames. The channel is closed
	// when the transport fails or is closed.
	Frames() <-chan []byte
	// Err reports the terminal transport failure after Frames is
	// closed; nil means an orderly close.
	Err() error
	// Close releases the transport. For stdio this kills the subprocess.
	Close() error
}

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxInFlight = 16
)

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithCallTimeout sets the per-call timeout. On expiry the pending
// correlation entry is abandoned, not the transport.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithMaxInFlight bounds the number of pipelined outstanding requests.
func WithMaxInFlight(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClientInfo overrides the client identity sent during initialize.
func WithClientInfo(info ClientInfo) SessionOption {
	return func(s *Session) {
		s.info = info
	}
}

// Session is a per-server protocol connection. It owns its transport
// exclusively and correlates pipelined requests by integer id.
type Session struct {
	name      string
	transport Transport
	logger    zerolog.Logger
	info      ClientInfo

	callTimeout time.Duration
	slots       chan struct{}

	state   atomic.Int32
	closing atomic.Bool

	// mu guards nextID and pending; both are touched by concurrent
	// in-flight calls and the read loop.
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Response

	catalogMu  sync.RWMutex
	catalog    []Tool
	hasCatalog bool
	caps       ServerCapabilities
	serverInfo ClientInfo
}

// NewSession wraps a transport in a session and starts its read loop.
// The session takes ownership of the transport.
func NewSession(name string, transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		name:        name,
		transport:   transport,
		logger:      zerolog.Nop(),
		info:        ClientInfo{Name: "corvo", Version: "0.1.0"},
		callTimeout: defaultCallTimeout,
		slots:       make(chan struct{}, defaultMaxInFlight),
		pending:     make(map[int64]chan *Response),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("server", name).Logger()
	go s.readLoop()
	return s
}

// Name returns the server name the session was built for.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Capabilities returns the capability set recorded during initialize.
func (s *Session) Capabilities() ServerCapabilities {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return s.caps
}

// ServerInfo returns the server identity recorded during initialize.
func (s *Session) ServerInfo() ClientInfo {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return s.serverInfo
}

// Initialize performs the protocol handshake and moves the session to
// Ready. It may be called exactly once.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fmt.Errorf("initialize in state %s: %w", s.State(), ErrNotReady)
	}

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      s.info,
	}

	resp, err := s.call(ctx, MethodInitialize, params)
	if err != nil {
		if s.state.CompareAndSwap(int32(StateInitializing), int32(StateError)) {
			observability.RecordSessionState(s.name, StateError.String())
		}
		return fmt.Errorf("initialize %s: %w", s.name, err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		if s.state.CompareAndSwap(int32(StateInitializing), int32(StateError)) {
			observability.RecordSessionState(s.name, StateError.String())
		}
		return &ProtocolError{Msg: fmt.Sprintf("bad initialize result: %v", err)}
	}

	s.catalogMu.Lock()
	s.caps = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.catalogMu.Unlock()

	if s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		observability.RecordSessionState(s.name, StateReady.String())
	}
	s.logger.Info().
		Str("protocol", result.ProtocolVersion).
		Str("server_name", result.ServerInfo.Name).
		Msg("MCP session ready")
	return nil
}

// ListTools returns the tool catalog, fetching it on first use. The
// cache stays valid until RefreshTools.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	s.catalogMu.RLock()
	if s.hasCatalog {
		tools := append([]Tool(nil), s.catalog...)
		s.catalogMu.RUnlock()
		return tools, nil
	}
	s.catalogMu.RUnlock()
	return s.RefreshTools(ctx)
}

// RefreshTools re-fetches the tool catalog from the server.
func (s *Session) RefreshTools(ctx context.Context) ([]Tool, error) {
	resp, err := s.call(ctx, MethodToolsList, nil)
	if err != nil {
		if errors.Is(err, errCallTimeout) {
			return nil, &ToolError{Kind: ToolTimeout, Tool: MethodToolsList}
		}
		return nil, fmt.Errorf("tools/list %s: %w", s.name, err)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("bad tools/list result: %v", err)}
	}

	s.catalogMu.Lock()
	s.catalog = result.Tools
	s.hasCatalog = true
	s.catalogMu.Unlock()

	return append([]Tool(nil), result.Tools...), nil
}

// Tools returns the cached catalog without touching the wire.
func (s *Session) Tools() []Tool {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return append([]Tool(nil), s.catalog...)
}

// CallTool invokes one tool. Tool-level failures and per-call timeouts
// come back as *ToolError; transport loss comes back as *TransportError.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error) {
	resp, err := s.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if errors.Is(err, errCallTimeout) {
			return nil, &ToolError{Kind: ToolTimeout, Tool: name}
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, &ToolError{Kind: ToolFailure, Tool: name, Message: rpcErr.Message}
		}
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("bad tools/call result: %v", err)}
	}
	return &result, nil
}

// Close tears the session down. Pending calls resolve with
// ErrTransportClosed once the read loop drains.
func (s *Session) Close() error {
	s.closing.Store(true)
	return s.transport.Close()
}

// call sends one correlated request and waits for its response.
func (s *Session) call(ctx context.Context, method string, params interface{}) (*Response, error) {
	state := s.State()
	if method == MethodInitialize {
		if state != StateInitializing {
			return nil, ErrNotReady
		}
	} else if state != StateReady {
		return nil, ErrNotReady
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slots }()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan *Response, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	frame, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		s.abandon(id)
		return nil, err
	}

	if err := s.transport.Send(ctx, frame); err != nil {
		s.abandon(id)
		return nil, &TransportError{Op: "send", Err: err}
	}

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, &TransportError{Op: "recv", Err: ErrTransportClosed}
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		s.abandon(id)
		return nil, ctx.Err()
	case <-timer.C:
		// Abandon the correlation entry and leave the transport (and any
		// stdio subprocess) running. A late response for this id is
		// dropped as unmatched.
		s.abandon(id)
		return nil, errCallTimeout
	}
}

// abandon removes a pending entry so its id is free to stay retired.
func (s *Session) abandon(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop dispatches incoming frames by correlation id until the
// transport closes, then fails everything still pending.
func (s *Session) readLoop() {
	for frame := range s.transport.Frames() {
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if resp.ID == 0 {
			s.logger.Debug().Msg("Dropping server notification")
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Warn().Int64("id", resp.ID).Msg("Dropping unmatched response")
			continue
		}
		ch <- &resp
	}
	s.shutdown(s.transport.Err())
}

// shutdown records the terminal state and fails pending calls.
func (s *Session) shutdown(cause error) {
	if cause != nil && !s.closing.Load() {
		s.state.Store(int32(StateError))
		observability.RecordSessionState(s.name, StateError.String())
		s.logger.Error().Err(cause).Msg("MCP session failed")
	} else {
		s.state.Store(int32(StateClosed))
		observability.RecordSessionState(s.name, StateClosed.String())
		s.logger.Debug().Msg("MCP session closed")
	}

	s.mu.Lock()
	for id, ch := range s.pending {
		delete(s.pending, id)
		close(ch)
	}
	s.mu.Unlock()
}
