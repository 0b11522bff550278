// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// A single Store interface covers the three persisted domains:
//
//   - Sessions: one record per channel mapping it to a runtime session
//   - Conversations: a bounded per-channel message history
//   - Memories: key/value facts scoped globally or to a user
//
// SQLiteStore implements the interface for production; MockStore is an
// in-memory implementation with the same semantics for tests.
//
// # Data Models
//
//   - SessionRecord: channel-to-runtime-session mapping with liveness flag
//   - Message: a single conversation entry with author and bot attribution
//   - Memory: a remembered fact keyed by (key, scope, username)
//
// # Retention
//
// Conversation history is a ring: each channel keeps at most
// MaxMessagesPerChannel messages, and appends beyond the cap delete the
// oldest rows. Memories are capped per (scope, username) bucket at
// MaxMemoriesPerScope; inserting into a full bucket evicts the entry with
// the oldest updated_at. Memory values longer than MaxMemoryValueLen runes
// are truncated on write.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Database file locations:
//
//   - Production: /var/lib/familiar/familiar.db
//   - Development: ~/.local/share/familiar/familiar.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
// ErrNotFound is returned when a requested entity does not exist. All
// methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Migrations
//
// The schema is created on startup; column additions are applied in
// runMigrations by checking pragma_table_info before altering.
package store
