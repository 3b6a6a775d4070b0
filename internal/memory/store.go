// Package memory keeps the long-term record of past sessions and retrieves
// relevant fragments of it for prompting.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/types"
)

// ErrNoSession is returned when committing a nil session.
var ErrNoSession = errors.New("memory: nil session")

// Patterns aggregates recent sessions.
type Patterns struct {
	EmotionsFrequency   map[string]int `json:"emotions_frequency"`
	TechniquesFrequency map[string]int `json:"techniques_frequency"`
	TotalSessions       int            `json:"total_sessions"`
}

// CrisisHistoryItem is one past crisis flag.
type CrisisHistoryItem struct {
	SessionID   int64     `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       int       `json:"level"`
	Type        string    `json:"type"`
	SessionDate time.Time `json:"session_date"`
}

type Stats struct {
	Backend     string `json:"backend"`
	Path        string `json:"path"`
	Sessions    int    `json:"sessions"`
	Entries     int    `json:"entries"`
	Indexed     int    `json:"indexed"`
	NextIndexID int64  `json:"next_index_id"`
}

// Store is the long-term memory. A single writer is assumed; reads run
// concurrently.
type Store struct {
	mu      sync.RWMutex
	durable types.MemoryDurable
	index   Index

	sessions      []*types.SessionRecord
	entries       []*types.MemoryEntry
	nextIndexID   int64
	nextSessionID int64

	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the durable snapshot into the given index. A load failure starts
// cold with a warning.
func New(ctx context.Context, durable types.MemoryDurable, index Index, opts ...Option) (*Store, error) {
	if durable == nil {
		return nil, errors.New("memory: durable store is required")
	}
	if index == nil {
		index = NewTFIDF()
	}
	s := &Store{durable: durable, index: index, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	return s, nil
}

// load replaces in-memory state from the durable store. Sequence counters
// never move backwards. Caller holds the write lock.
func (s *Store) load(ctx context.Context) {
	snap, err := s.durable.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Str("path", s.durable.Path()).Msg("memory load failed, starting empty")
		empty := &types.MemorySnapshot{}
		if snap != nil {
			empty.NextIndexID = snap.NextIndexID
			empty.NextSessionID = snap.NextSessionID
		}
		snap = empty
	}

	s.sessions = snap.Sessions
	s.entries = snap.Entries
	s.nextIndexID = max(s.nextIndexID, snap.NextIndexID)
	s.nextSessionID = max(s.nextSessionID, snap.NextSessionID)
	for _, e := range s.entries {
		s.nextIndexID = max(s.nextIndexID, e.IndexID+1)
	}
	for _, r := range s.sessions {
		s.nextSessionID = max(s.nextSessionID, r.SessionID+1)
	}

	texts := contents(s.entries)
	vectors := snap.Vectors
	if len(vectors) != len(texts) {
		vectors, err = s.index.Vectorize(ctx, texts)
		if err != nil {
			log.Warn().Err(err).Int("entries", len(texts)).Msg("memory index rebuild failed")
			vectors = nil
		} else if len(vectors) > 0 {
			log.Info().Int("entries", len(texts)).Str("backend", s.index.Name()).Msg("memory index rebuilt from entries")
		}
	}
	s.index.Reset()
	s.index.Add(texts, vectors)

	log.Debug().
		Int("sessions", len(s.sessions)).
		Int("entries", len(s.entries)).
		Str("backend", s.index.Name()).
		Msg("memory loaded")
}

func contents(entries []*types.MemoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

// Append stores raw entries. Index ids are assigned here.
func (s *Store) Append(ctx context.Context, entries []*types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, nil, entries)
}

// CommitSession turns a finished session into a record plus entries and
// persists them atomically. On error nothing changes in memory.
func (s *Store) CommitSession(ctx context.Context, session *types.Session, summary string) (*types.SessionRecord, error) {
	if session == nil {
		return nil, ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &types.SessionRecord{
		SessionID:       s.nextSessionID,
		Timestamp:       now,
		Duration:        now.Sub(session.StartTime).Round(time.Second).String(),
		Summary:         summary,
		EmotionsTracked: session.EmotionsTracked,
		TechniquesUsed:  session.TechniquesUsed,
		CrisisFlags:     session.CrisisFlags,
		KeyPhrases:      KeyPhrases(session),
		InitialAnalysis: session.InitialAnalysis,
	}

	if err := s.commit(ctx, rec, buildEntries(rec)); err != nil {
		return nil, err
	}
	log.Info().
		Int64("session_id", rec.SessionID).
		Int("key_phrases", len(rec.KeyPhrases)).
		Msg("session stored in memory")
	return rec, nil
}

// commit vectorizes, persists, then applies. Caller holds the write lock.
func (s *Store) commit(ctx context.Context, rec *types.SessionRecord, entries []*types.MemoryEntry) error {
	nextID := s.nextIndexID
	for _, e := range entries {
		e.IndexID = nextID
		nextID++
	}
	nextSession := s.nextSessionID
	if rec != nil {
		nextSession++
	}

	texts := contents(entries)
	vectors, err := s.index.Vectorize(ctx, texts)
	if err != nil {
		return fmt.Errorf("vectorize entries: %w", err)
	}

	err = s.durable.Commit(ctx, &types.MemoryCommit{
		Record:        rec,
		Entries:       entries,
		Vectors:       vectors,
		NextIndexID:   nextID,
		NextSessionID: nextSession,
	})
	if err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}

	if rec != nil {
		s.sessions = append(s.sessions, rec)
	}
	s.entries = append(s.entries, entries...)
	s.index.Add(texts, vectors)
	s.nextIndexID = nextID
	s.nextSessionID = nextSession
	return nil
}

// Retrieve returns up to k formatted fragments most similar to query. Index
// failures yield an empty result.
func (s *Store) Retrieve(ctx context.Context, query string, k int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.entries) == 0 {
		return nil
	}
	hits, err := s.index.Search(ctx, query, k)
	if err != nil {
		log.Warn().Err(err).Msg("memory retrieval failed")
		return nil
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Pos < 0 || h.Pos >= len(s.entries) {
			continue
		}
		if text := FormatEntry(s.entries[h.Pos]); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// MaxLookbackDays bounds pattern windows given in days.
const MaxLookbackDays = 3650

// LookbackWindow converts days to a duration, clamped to
// [0, MaxLookbackDays] so large inputs cannot overflow.
func LookbackWindow(days int) time.Duration {
	return time.Duration(min(max(days, 0), MaxLookbackDays)) * 24 * time.Hour
}

// AggregatePatterns counts emotions and techniques over sessions newer than
// lookback.
func (s *Store) AggregatePatterns(lookback time.Duration) Patterns {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-lookback)
	p := Patterns{
		EmotionsFrequency:   make(map[string]int),
		TechniquesFrequency: make(map[string]int),
	}
	for _, rec := range s.sessions {
		if !rec.Timestamp.After(cutoff) {
			continue
		}
		p.TotalSessions++
		for _, snap := range rec.EmotionsTracked {
			for _, e := range snap.Emotions {
				p.EmotionsFrequency[e]++
			}
		}
		for _, t := range rec.TechniquesUsed {
			p.TechniquesFrequency[string(t.Technique)]++
		}
	}
	return p
}

// CrisisHistory lists every recorded crisis flag, newest first.
func (s *Store) CrisisHistory() []CrisisHistoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []CrisisHistoryItem
	for _, rec := range s.sessions {
		for _, f := range rec.CrisisFlags {
			typ := f.Type
			if typ == "" {
				typ = "unknown"
			}
			out = append(out, CrisisHistoryItem{
				SessionID:   rec.SessionID,
				Timestamp:   f.Timestamp,
				Level:       f.Level,
				Type:        typ,
				SessionDate: rec.Timestamp,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Sessions returns the stored session records, oldest first.
func (s *Store) Sessions() []*types.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*types.SessionRecord(nil), s.sessions...)
}

// Clear drops every session and entry. Sequence counters are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Warn().Int("entries", len(s.entries)).Msg("clearing all memory")
	if err := s.durable.Clear(ctx); err != nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	s.sessions = nil
	s.entries = nil
	s.index.Reset()
	return nil
}

// Reload re-reads the durable store.
func (s *Store) Reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
}

func (s *Store) Path() string {
	return s.durable.Path()
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Backend:     s.index.Name(),
		Path:        s.durable.Path(),
		Sessions:    len(s.sessions),
		Entries:     len(s.entries),
		Indexed:     s.index.Len(),
		NextIndexID: s.nextIndexID,
	}
}
