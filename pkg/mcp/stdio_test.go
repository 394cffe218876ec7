package mcp

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stdio tests need a POSIX shell")
	}
}

// stubServerScript answers initialize, tools/list, and one tools/call.
// Session ids are deterministic, so the replies can be pre-baked.
const stubServerScript = `
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"stub","version":"1.0"}}}'
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"Echo a message","inputSchema":{"type":"object"}}]}}'
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hi"}]}}'
read -r line
`

func TestStdioSessionHandshakeAndCall(t *testing.T) {
	skipWithoutSh(t)

	tr, err := NewStdioTransport("sh", []string{"-c", stubServerScript})
	require.NoError(t, err)

	sess := NewSession("stub", tr, WithCallTimeout(5*time.Second))
	defer sess.Close()

	require.NoError(t, sess.Initialize(context.Background()))
	assert.Equal(t, StateReady, sess.State())
	assert.Equal(t, "stub", sess.ServerInfo().Name)

	tools, err := sess.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := sess.CallTool(context.Background(), "echo", map[string]interface{}{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text())
}

func TestStdioProcessExitMidCall(t *testing.T) {
	skipWithoutSh(t)

	// Answers initialize, then consumes the next request and exits
	// without replying.
	script := `
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"stub","version":"1.0"}}}'
read -r line
exit 0
`
	tr, err := NewStdioTransport("sh", []string{"-c", script})
	require.NoError(t, err)

	sess := NewSession("stub", tr, WithCallTimeout(10*time.Second))
	require.NoError(t, sess.Initialize(context.Background()))

	_, err = sess.CallTool(context.Background(), "echo", nil)
	var trErr *TransportError
	require.ErrorAs(t, err, &trErr, "mid-call process exit must resolve the pending call, not hang")

	assert.Eventually(t, func() bool {
		st := sess.State()
		return st == StateClosed || st == StateError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStdioStderrIsDiagnosticOnly(t *testing.T) {
	skipWithoutSh(t)

	script := `
echo 'starting up' >&2
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"stub","version":"1.0"}}}'
read -r line
`
	tr, err := NewStdioTransport("sh", []string{"-c", script})
	require.NoError(t, err)
	defer tr.Close()

	sess := NewSession("stub", tr)
	require.NoError(t, sess.Initialize(context.Background()))

	assert.Eventually(t, func() bool {
		return tr.Stderr() == "starting up"
	}, 2*time.Second, 10*time.Millisecond)
	// stderr never reached the frame stream: the session is still Ready.
	assert.Equal(t, StateReady, sess.State())
}

func TestStdioCloseReleasesProcess(t *testing.T) {
	skipWithoutSh(t)

	tr, err := NewStdioTransport("sh", []string{"-c", "while true; do sleep 1; done"})
	require.NoError(t, err)

	sess := NewSession("stub", tr)
	require.NoError(t, sess.Close())

	assert.Eventually(t, func() bool {
		return sess.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}
