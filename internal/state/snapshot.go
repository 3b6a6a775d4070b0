package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/soulsync/internal/types"
)

// SnapshotStore keeps the whole memory in one JSON file, replaced atomically
// on every commit. It assumes a single writer process.
type SnapshotStore struct {
	path string
	mu   sync.Mutex
	snap *types.MemorySnapshot
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Path() string { return s.path }

func (s *SnapshotStore) Close() error { return nil }

// Load reads the snapshot file. A missing file is an empty snapshot. A file
// that does not decode is moved aside and the store continues empty; the
// decode error is still returned so the caller knows history was lost.
func (s *SnapshotStore) Load(_ context.Context) (*types.MemorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if snap != nil {
		s.snap = snap
	}
	if err != nil {
		return nil, err
	}
	return cloneSnapshot(snap), nil
}

// read decodes the file. A corrupt file is quarantined and read returns an
// empty snapshot together with the decode error. Caller holds mu.
func (s *SnapshotStore) read() (*types.MemorySnapshot, error) {
	snap := &types.MemorySnapshot{}
	_, err := readJSON(s.path, snap)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, err
	}
	dst, qerr := quarantine(s.path, time.Now())
	if qerr != nil {
		return nil, fmt.Errorf("%w (%w)", err, qerr)
	}
	return &types.MemorySnapshot{}, fmt.Errorf("%w; moved to %s", err, dst)
}

// Commit appends to the snapshot and rewrites the file. The cached snapshot
// only changes once the write succeeds.
func (s *SnapshotStore) Commit(ctx context.Context, c *types.MemoryCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		snap, err := s.read()
		if snap == nil {
			return err
		}
		s.snap = snap
	}

	next := cloneSnapshot(s.snap)
	if c.Record != nil {
		next.Sessions = append(next.Sessions, c.Record)
	}
	next.Entries = append(next.Entries, c.Entries...)
	if len(c.Vectors) > 0 || len(next.Vectors) > 0 {
		next.Vectors = append(next.Vectors, c.Vectors...)
	}
	next.NextIndexID = max(next.NextIndexID, c.NextIndexID)
	next.NextSessionID = max(next.NextSessionID, c.NextSessionID)

	if err := writeJSONAtomic(s.path, next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

// Clear empties the snapshot but keeps the sequence counters.
func (s *SnapshotStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &types.MemorySnapshot{
		Sessions: []*types.SessionRecord{},
		Entries:  []*types.MemoryEntry{},
	}
	if s.snap != nil {
		next.NextIndexID = s.snap.NextIndexID
		next.NextSessionID = s.snap.NextSessionID
	}
	if err := writeJSONAtomic(s.path, next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func cloneSnapshot(s *types.MemorySnapshot) *types.MemorySnapshot {
	return &types.MemorySnapshot{
		Sessions:      append([]*types.SessionRecord(nil), s.Sessions...),
		Entries:       append([]*types.MemoryEntry(nil), s.Entries...),
		Vectors:       append([][]float32(nil), s.Vectors...),
		NextIndexID:   s.NextIndexID,
		NextSessionID: s.NextSessionID,
	}
}
