package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/soulsync/internal/types"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"feel", "anxious", "work", "42"}, tokenize("I feel SO anxious at work, 42 x"))
}

func TestTFIDFExcludesZeroOverlap(t *testing.T) {
	idx := NewTFIDF()
	idx.Add([]string{"sleep problems every night", "family dinner was nice"}, nil)

	hits, err := idx.Search(context.Background(), "trouble with sleep", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Pos)

	hits, err = idx.Search(context.Background(), "the and of", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTopKTieBreaksByPosition(t *testing.T) {
	hits := topK([]Hit{{Pos: 2, Score: 0.5}, {Pos: 0, Score: 0.5}, {Pos: 1, Score: 0.9}}, 3)
	assert.Equal(t, []Hit{{Pos: 1, Score: 0.9}, {Pos: 0, Score: 0.5}, {Pos: 2, Score: 0.5}}, hits)
}

// axisEmbedder maps known words to fixed vectors.
type axisEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (a axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := a.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func TestDenseRanksByInnerProduct(t *testing.T) {
	emb := axisEmbedder{vectors: map[string][]float32{
		"work":   {3, 0, 0},
		"family": {0, 2, 0},
		"mixed":  {1, 1, 0},
		"query":  {2, 0.5, 0},
	}}
	idx := NewDense(emb)
	texts := []string{"family", "mixed", "work"}
	vecs, err := idx.Vectorize(context.Background(), texts)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vecs[2][0], 1e-6)
	idx.Add(texts, vecs)

	hits, err := idx.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, hits[0].Pos)
	assert.Equal(t, 1, hits[1].Pos)
}

func TestDenseStoreRebuildsMismatchedVectors(t *testing.T) {
	emb := axisEmbedder{vectors: map[string][]float32{"hello there": {1, 0, 0}}}
	d := &fakeDurable{snap: types.MemorySnapshot{
		Entries: []*types.MemoryEntry{{IndexID: 0, Type: types.EntryKeyPhrase, Content: "hello there"}},
		Vectors: nil,
	}}

	s, err := New(context.Background(), d, NewDense(emb))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().Indexed)
	assert.Equal(t, int64(1), s.Stats().NextIndexID)
}

func TestDenseRetrievalErrorDegrades(t *testing.T) {
	d := &fakeDurable{snap: types.MemorySnapshot{
		Entries: []*types.MemoryEntry{{Type: types.EntryKeyPhrase, Content: "x"}},
		Vectors: [][]float32{{1, 0, 0}},
	}}
	s, err := New(context.Background(), d, NewDense(axisEmbedder{err: errors.New("backend down")}))
	require.NoError(t, err)
	assert.Empty(t, s.Retrieve(context.Background(), "anything", 3))
}
