// Package store provides SQLite-backed durable storage for board records.
//
// The store holds a single tasks table keyed by id, with a composite
// index on ("column", position) for ordered range scans.
//
// # Critical Patterns
//
// Single-writer discipline
//   - Connection pool capped at one open connection
//   - Mutations run inside Store.WithTx: read, version-check, write, commit
//   - Concurrent transactions serialize end to end, so the first
//     committer wins and the loser observes the incremented version
//
// Ordered scans
//   - Column reads MUST include: ORDER BY position COLLATE BINARY ASC
//   - Position keys never end with their minimum symbol, so byte order
//     is display order
//
// Timestamps
//   - created_at/updated_at stored as unix milliseconds (INTEGER)
//   - Read back as UTC time.Time values
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
