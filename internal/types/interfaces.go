// internal/types/interfaces.go
package types

import "context"

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey, source string) (SessionID, error)
	Get(ctx context.Context, key SessionKey) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	Touch(ctx context.Context, key SessionKey, messages int) error
	MarkEnded(ctx context.Context, key SessionKey) error
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

// MemoryDurable persists the memory store. Commit must be all-or-nothing.
// When Load fails it may still return a snapshot carrying only the sequence
// counters, which callers keep so ids are not reused.
type MemoryDurable interface {
	Load(ctx context.Context) (*MemorySnapshot, error)
	Commit(ctx context.Context, commit *MemoryCommit) error
	Clear(ctx context.Context) error
	Path() string
	Close() error
}
