// Package agent drives the model/tool iteration loop: call the
// provider, execute requested tools, feed results back, repeat until
// the model answers in plain text or a limit fires.
//
// Invariants:
//   - A run ends in exactly one terminal status: success, failed,
//     cancelled, or max_iterations_exceeded.
//   - Cancellation is terminal; results arriving after it are discarded.
//   - Tool results return to the model in issuance order.
//   - When the model requests tools on the final allowed iteration the
//     run ends without executing them.
//   - Rate-limit and transient provider failures that survive their
//     retries become conversation content; only auth and fatal failures
//     end the run as failed.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.RunnerConfig{
//		Providers:  registry,
//		Dispatcher: disp,
//		Memory:     store,
//	})
//	result, _ := runner.Run(ctx, agent.RunParams{
//		Prompt: "summarize today's errors",
//		Config: agent.DefaultConfig(),
//	})
//	_ = result
package agent
