// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/soulsync/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	key := types.NewSessionKey("telegram", "123", "123")
	id, err := store.ResolveOrCreate(ctx, key, "telegram")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected non-empty session ID")
	}

	session, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if session.SessionID != id || session.Status != types.SessionStatusActive {
		t.Errorf("unexpected session %+v", session)
	}

	id2, err := store.ResolveOrCreate(ctx, key, "telegram")
	if err != nil {
		t.Fatal(err)
	}
	if id != id2 {
		t.Error("expected same session ID for same key while active")
	}
}

func TestSessionStoreEndedGetsFreshID(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()
	key := types.NewSessionKey("http", "alice")

	id, err := store.ResolveOrCreate(ctx, key, "http")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Touch(ctx, key, 6); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkEnded(ctx, key); err != nil {
		t.Fatal(err)
	}

	ended, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ended.Status != types.SessionStatusEnded || ended.Messages != 6 {
		t.Errorf("unexpected session %+v", ended)
	}

	id2, err := store.ResolveOrCreate(ctx, key, "http")
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Error("expected a new session ID after end")
	}
}

func TestSessionStoreNotFound(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.MarkEnded(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}
