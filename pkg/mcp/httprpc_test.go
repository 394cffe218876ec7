package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcHandler serves the scripted server over plain HTTP POSTs.
func rpcHandler(t *testing.T, script func(req Request) []*Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req Request
		require.NoError(t, json.Unmarshal(body, &req))

		responses := script(req)
		require.Len(t, responses, 1, "http binding answers in the POST body")

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(responses[0]))
	}
}

func TestHTTPSessionLifecycle(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, scriptedServer(nil)))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	sess := NewSession("http", tr)
	defer sess.Close()

	// Ready immediately after the initialize probe; no persistent
	// connection exists.
	require.NoError(t, sess.Initialize(context.Background()))
	assert.Equal(t, StateReady, sess.State())

	tools, err := sess.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := sess.CallTool(context.Background(), "echo", map[string]interface{}{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text())
}

func TestHTTPSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	sess := NewSession("http", tr)
	defer sess.Close()

	err := sess.Initialize(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, StateReady, sess.State())
}

func TestHTTPTransportSendAfterClose(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, scriptedServer(nil)))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	require.NoError(t, tr.Close())

	frame, err := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: MethodInitialize})
	require.NoError(t, err)
	err = tr.Send(context.Background(), frame)
	assert.ErrorIs(t, err, ErrTransportClosed)
}
