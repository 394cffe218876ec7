// Package mcp implements the client side of the MCP JSON-RPC tool
// protocol over stdio, SSE, and plain HTTP transports.
//
// Invariants:
// - A Session exclusively owns its transport; Close is the only release path.
// - Correlation ids increase monotonically and are never reused while pending.
// - A Closed or Error session is terminal; callers build a fresh session.
// - Unmatched or late frames are logged and dropped, never fatal.
//
// Usage:
//
//	tr, _ := mcp.NewStdioTransport("my-server", []string{"--stdio"})
//	sess := mcp.NewSession("my-server", tr)
//	_ = sess.Initialize(ctx)
//	tools, _ := sess.ListTools(ctx)
//	result, _ := sess.CallTool(ctx, tools[0].Name, map[string]interface{}{"msg": "hi"})
//	_ = result
//	_ = sess.Close()
package mcp
