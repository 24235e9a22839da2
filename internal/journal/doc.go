// Package journal provides SQLite-backed durable storage for engine
// activity: inbound events, chain execution transitions, and outbound
// broadcasts.
//
// The journal is an append-only log. All ordering uses seq INTEGER from the
// engine's logical clock, never timestamps, so a trace reads back in the
// exact order the engine processed it regardless of wall time. The trace
// and replay commands are the only readers.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package journal
