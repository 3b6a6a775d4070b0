// internal/state/session.go
package state

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/user/soulsync/internal/types"
)

// ErrSessionNotFound is returned for an unknown session key.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps session keys to their current session. The index lives
// in sessions/sessions.json and is re-read on every call, so a CLI process
// sees what a running daemon wrote.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

type sessionIndex map[types.SessionKey]*types.SessionIndex

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *SessionStore) load() (sessionIndex, error) {
	var entries []*types.SessionIndex
	if _, err := readJSON(s.indexPath(), &entries); err != nil {
		return nil, fmt.Errorf("load session index: %w", err)
	}
	idx := make(sessionIndex, len(entries))
	for _, e := range entries {
		idx[e.SessionKey] = e
	}
	return idx, nil
}

// view runs fn against a fresh read of the index.
func (s *SessionStore) view(fn func(sessionIndex) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.load()
	if err != nil {
		return err
	}
	return fn(idx)
}

// update runs fn against the index and writes it back if fn succeeds.
func (s *SessionStore) update(fn func(sessionIndex) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(idx); err != nil {
		return err
	}
	entries := sortedEntries(idx, func(a, b *types.SessionIndex) int {
		return cmp.Compare(a.SessionKey, b.SessionKey)
	})
	return writeJSONAtomic(s.indexPath(), entries)
}

func sortedEntries(idx sessionIndex, less func(a, b *types.SessionIndex) int) []*types.SessionIndex {
	out := make([]*types.SessionIndex, 0, len(idx))
	for _, e := range idx {
		out = append(out, e)
	}
	slices.SortFunc(out, less)
	return out
}

func (idx sessionIndex) lookup(key types.SessionKey) (*types.SessionIndex, error) {
	e, ok := idx[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return e, nil
}

// ResolveOrCreate returns the active SessionID for key. An ended or missing
// entry is replaced by a fresh session whose journal directory is created.
func (s *SessionStore) ResolveOrCreate(_ context.Context, key types.SessionKey, source string) (types.SessionID, error) {
	var id types.SessionID
	err := s.update(func(idx sessionIndex) error {
		if e, ok := idx[key]; ok && e.Status == types.SessionStatusActive {
			id = e.SessionID
			return nil
		}
		id = types.NewSessionID()
		if err := os.MkdirAll(filepath.Join(s.root, "sessions", string(id)), 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		now := time.Now()
		idx[key] = &types.SessionIndex{
			SessionID:  id,
			SessionKey: key,
			Source:     source,
			Status:     types.SessionStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SessionStore) Get(_ context.Context, key types.SessionKey) (*types.SessionIndex, error) {
	var out *types.SessionIndex
	err := s.view(func(idx sessionIndex) error {
		e, err := idx.lookup(key)
		out = e
		return err
	})
	return out, err
}

// List returns all sessions, most recently updated first.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionIndex, error) {
	var out []*types.SessionIndex
	err := s.view(func(idx sessionIndex) error {
		out = sortedEntries(idx, func(a, b *types.SessionIndex) int {
			return b.UpdatedAt.Compare(a.UpdatedAt)
		})
		return nil
	})
	return out, err
}

// Update replaces an existing entry and stamps UpdatedAt.
func (s *SessionStore) Update(_ context.Context, session *types.SessionIndex) error {
	return s.update(func(idx sessionIndex) error {
		if _, err := idx.lookup(session.SessionKey); err != nil {
			return err
		}
		session.UpdatedAt = time.Now()
		idx[session.SessionKey] = session
		return nil
	})
}

// Touch records the current message count of a session.
func (s *SessionStore) Touch(_ context.Context, key types.SessionKey, messages int) error {
	return s.modify(key, func(e *types.SessionIndex) { e.Messages = messages })
}

// MarkEnded flags the session for key as ended.
func (s *SessionStore) MarkEnded(_ context.Context, key types.SessionKey) error {
	return s.modify(key, func(e *types.SessionIndex) { e.Status = types.SessionStatusEnded })
}

func (s *SessionStore) modify(key types.SessionKey, fn func(*types.SessionIndex)) error {
	return s.update(func(idx sessionIndex) error {
		e, err := idx.lookup(key)
		if err != nil {
			return err
		}
		fn(e)
		e.UpdatedAt = time.Now()
		return nil
	})
}
