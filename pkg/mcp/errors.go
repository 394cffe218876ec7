package mcp

import (
	"errors"
	"fmt"
)

// ErrTransportClosed resolves every request still pending when the
// transport dies or the session is closed.
var ErrTransportClosed = errors.New("mcp: transport closed")

// ErrNotReady rejects calls on a session that has not completed the
// initialize handshake or has already terminated.
var ErrNotReady = errors.New("mcp: session not ready")

// errCallTimeout is the internal sentinel for an abandoned per-call
// timeout; CallTool converts it into a ToolError.
var errCallTimeout = errors.New("mcp: call timed out")

// TransportError wraps a connection or process level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a malformed or unexpected frame.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "mcp protocol: " + e.Msg
}

// ToolErrorKind distinguishes tool-level failure modes.
type ToolErrorKind int

const (
	// ToolFailure is a failure the tool or server reported.
	ToolFailure ToolErrorKind = iota
	// ToolTimeout is a per-call timeout; the pending entry was abandoned.
	ToolTimeout
)

// ToolError is a non-fatal tool invocation failure. The agent feeds it
// back to the model instead of aborting the run.
type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Kind == ToolTimeout {
		return fmt.Sprintf("tool %s timed out", e.Tool)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Timeout reports whether the error is a per-call timeout.
func (e *ToolError) Timeout() bool {
	return e.Kind == ToolTimeout
}
