// Package memory persists conversation transcripts per session key.
//
// Two stores are provided: SQLiteStore for durable history across
// process restarts and InMemoryStore for tests and ephemeral runs.
// Both satisfy the agent's Memory contract.
//
// Invariants:
// - History returns messages in the exact order they were appended.
// - Append is atomic per call: either all messages land or none do.
package memory
