// Package state provides filesystem and SQLite backed storage implementations.
package state

import "github.com/user/soulsync/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
var _ types.MemoryDurable = (*SnapshotStore)(nil)
var _ types.MemoryDurable = (*SQLiteStore)(nil)
