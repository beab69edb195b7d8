// Package conversation provides per-agent isolated message history.
//
// # Backends
//
// Two Store implementations exist:
//
//   - FileStore: one JSON document per (channel, user), cached in memory
//     and persisted asynchronously with write-temp-then-rename atomicity.
//   - SQLiteStore: a relational backend with conversations and sessions
//     tables. Sessions bound liveness bookkeeping only; retrieval unions
//     rows across sessions for the (agent, channel, user) triple, capped
//     at the most recent maxHistory messages.
//
// Both are constructed per agent. The agent name is baked into the store
// at construction, so no read path can ever cross agents even when stores
// share a storage directory or database file.
//
// # Consistency model
//
// The in-memory cache is the authoritative view for readers. Durable state
// is eventually consistent: each mutation schedules a detached write, and
// a failed write is logged but never surfaced to the message pipeline.
// Use Flush before shutdown to drain pending writes.
//
// # Testing
//
// Use NewMemoryStore for unit tests that need a Store without disk I/O.
// Use NewSQLiteStore with a t.TempDir() path for integration tests.
package conversation
