// Package provider normalizes LLM vendor APIs behind one
// request/response/streaming contract with tool-definition translation
// and retryable-error classification.
//
// Invariants:
//   - Tool definition translation is pure and stateless.
//   - Only RateLimit and Transient failures are retried; Auth and Fatal
//     fail immediately.
//   - A Stream is finite, single-producer, and never restarted; once a
//     delta was delivered a failure is surfaced as a partial result.
//
// Usage:
//
//	reg := provider.NewRegistry()
//	_ = reg.Register(provider.NewAnthropicProvider(apiKey))
//	p, _ := reg.Get("anthropic")
//	resp, _ := p.Generate(ctx, provider.Request{Model: "claude-sonnet-4-20250514", Messages: msgs})
//	_ = resp
package provider
