// Package dispatcher routes model-issued tool calls to their owning MCP
// sessions and executes them with bounded concurrency.
//
// Invariants:
//   - Exactly one Result per Call, keyed by the call id.
//   - Results are returned in issuance order regardless of completion order.
//   - Tool-level failures become Results the model can react to; only a
//     missing route or a transport/protocol failure aborts the batch.
//
// Usage:
//
//	router := dispatcher.NewRouter()
//	_, _ = router.Register(sess)
//	d := dispatcher.New(router)
//	results, _ := d.Dispatch(ctx, []dispatcher.Call{{ID: "1", Name: "echo"}})
//	_ = results
package dispatcher
