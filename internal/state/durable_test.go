package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/types"
)

type durableFactory struct {
	name string
	open func(t *testing.T, dir string) types.MemoryDurable
}

var durables = []durableFactory{
	{"json", func(t *testing.T, dir string) types.MemoryDurable {
		return NewSnapshotStore(filepath.Join(dir, "memory.json"))
	}},
	{"sqlite", func(t *testing.T, dir string) types.MemoryDurable {
		s, err := OpenSQLiteStore(filepath.Join(dir, "memory.db"))
		require.NoError(t, err)
		return s
	}},
}

func sampleSession(transcript string, msgs ...string) *types.Session {
	start := time.Now().Add(-5 * time.Minute)
	s := &types.Session{
		ID:        types.NewSessionID(),
		StartTime: start,
		InitialAnalysis: &types.AnalysisReport{
			Transcription: transcript,
			Sentiment:     types.Sentiment{Label: "negative", Confidence: 0.9},
			Emotions:      []types.EmotionScore{{Emotion: "fear", Confidence: 0.8}},
		},
		EmotionsTracked: []types.EmotionSnapshot{{Timestamp: start, Sentiment: "negative", Emotions: []string{"fear"}}},
		TechniquesUsed:  []types.TechniqueUse{{Timestamp: start, Technique: types.TechniqueCBT, Rationale: "r"}},
		CrisisFlags:     []types.CrisisFlag{{Timestamp: start, Level: 4, Type: types.CrisisConversationCrisis, Text: "I can't go on"}},
	}
	for _, m := range msgs {
		s.Messages = append(s.Messages, types.Message{Timestamp: start, Role: types.RoleUser, Content: m})
	}
	return s
}

func TestDurableRoundTrip(t *testing.T) {
	for _, f := range durables {
		t.Run(f.name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			d := f.open(t, dir)
			store, err := memory.New(ctx, d, memory.NewTFIDF())
			require.NoError(t, err)

			_, err = store.CommitSession(ctx, sampleSession("Deadlines at work keep me up at night", "My boss moved the project deadline again this week"), "SOULSYNC SESSION SUMMARY\nwork stress")
			require.NoError(t, err)
			_, err = store.CommitSession(ctx, sampleSession("I argued with my sister about the holidays"), "SOULSYNC SESSION SUMMARY\nfamily")
			require.NoError(t, err)

			query := "project deadline"
			before := store.Retrieve(ctx, query, 1)
			statsBefore := store.Stats()
			require.NoError(t, d.Close())

			d2 := f.open(t, dir)
			defer d2.Close()
			reopened, err := memory.New(ctx, d2, memory.NewTFIDF())
			require.NoError(t, err)

			assert.Equal(t, statsBefore.Entries, reopened.Stats().Entries)
			assert.Equal(t, statsBefore.Sessions, reopened.Stats().Sessions)
			assert.Equal(t, statsBefore.NextIndexID, reopened.Stats().NextIndexID)
			assert.Equal(t, before, reopened.Retrieve(ctx, query, 1))
			require.Len(t, reopened.CrisisHistory(), 2)

			recs := reopened.Sessions()
			assert.Equal(t, "Deadlines at work keep me up at night", recs[0].InitialAnalysis.Transcription)
			assert.Equal(t, types.TechniqueCBT, recs[0].TechniquesUsed[0].Technique)
		})
	}
}

func TestDurableClearKeepsSequence(t *testing.T) {
	for _, f := range durables {
		t.Run(f.name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			d := f.open(t, dir)
			defer d.Close()

			store, err := memory.New(ctx, d, nil)
			require.NoError(t, err)
			_, err = store.CommitSession(ctx, sampleSession("first transcript to remember"), "one")
			require.NoError(t, err)
			next := store.Stats().NextIndexID
			require.NoError(t, store.Clear(ctx))

			snap, err := d.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, snap.Entries)
			assert.Empty(t, snap.Sessions)
			assert.Equal(t, next, snap.NextIndexID)
			assert.Equal(t, int64(1), snap.NextSessionID)

			rec, err := store.CommitSession(ctx, sampleSession("second transcript to remember"), "two")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.SessionID)

			snap, err = d.Load(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, snap.Entries)
			assert.Equal(t, next, snap.Entries[0].IndexID)
		})
	}
}

func TestDurableVectorsRoundTrip(t *testing.T) {
	for _, f := range durables {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			d := f.open(t, t.TempDir())
			defer d.Close()

			err := d.Commit(ctx, &types.MemoryCommit{
				Entries: []*types.MemoryEntry{
					{IndexID: 0, Type: types.EntryKeyPhrase, Content: "a"},
					{IndexID: 1, Type: types.EntryKeyPhrase, Content: "b"},
				},
				Vectors:     [][]float32{{0.6, 0.8}, {1, 0}},
				NextIndexID: 2,
			})
			require.NoError(t, err)

			snap, err := d.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, [][]float32{{0.6, 0.8}, {1, 0}}, snap.Vectors)
			assert.Equal(t, int64(2), snap.NextIndexID)
		})
	}
}

func TestSnapshotStoreMissingFile(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "nested", "memory.json"))
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	d := NewSnapshotStore(path)
	_, err := d.Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	store, err := memory.New(ctx, NewSnapshotStore(path), memory.NewTFIDF())
	require.NoError(t, err)
	_, err = store.CommitSession(ctx, sampleSession("a transcript written after the corrupt file"), "sum")
	require.NoError(t, err)
	_, err = store.CommitSession(ctx, sampleSession("and a second one on top of it"), "sum")
	require.NoError(t, err)

	snap, err := NewSnapshotStore(path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Sessions, 2)
}

func TestSnapshotStoreCommitAfterCorruptLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// memory.New swallows the load error and starts empty
	d := NewSnapshotStore(path)
	store, err := memory.New(ctx, d, memory.NewTFIDF())
	require.NoError(t, err)
	assert.Zero(t, store.Stats().Entries)

	rec, err := store.CommitSession(ctx, sampleSession("first transcript after recovery"), "sum")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.SessionID)
}

func TestSQLiteLoadFailureKeepsCounters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := OpenSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	defer d.Close()

	store, err := memory.New(ctx, d, nil)
	require.NoError(t, err)
	_, err = store.CommitSession(ctx, sampleSession("a transcript long enough to keep", "and a message long enough to index"), "sum")
	require.NoError(t, err)
	next := store.Stats().NextIndexID

	require.NoError(t, d.db.Exec("UPDATE memory_entries SET entry = '{bad' WHERE index_id = 0").Error)
	require.NoError(t, d.db.Exec("DELETE FROM memory_sequences").Error)

	snap, err := d.Load(ctx)
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, next, snap.NextIndexID)
	assert.Equal(t, int64(1), snap.NextSessionID)

	restarted, err := memory.New(ctx, d, nil)
	require.NoError(t, err)
	assert.Zero(t, restarted.Stats().Entries)
	assert.Equal(t, next, restarted.Stats().NextIndexID)

	rec, err := restarted.CommitSession(ctx, sampleSession("a transcript after the bad row"), "sum")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SessionID)
}

func TestSnapshotStoreFailedWriteKeepsCache(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// parent path is a regular file, so the write must fail
	s := NewSnapshotStore(filepath.Join(blocker, "memory.json"))
	s.snap = &types.MemorySnapshot{}
	err := s.Commit(context.Background(), &types.MemoryCommit{
		Entries:     []*types.MemoryEntry{{IndexID: 0, Content: "x"}},
		NextIndexID: 1,
	})
	require.Error(t, err)
	assert.Empty(t, s.snap.Entries)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
