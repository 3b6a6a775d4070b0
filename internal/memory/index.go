package memory

import (
	"context"
	"sort"
)

// Hit is a scored position in the index.
type Hit struct {
	Pos   int
	Score float64
}

// Index is a similarity index over entry contents, kept positionally aligned
// with the store's entry list.
type Index interface {
	Name() string
	// Vectorize computes the durable vectors for texts without changing the
	// index. Sparse indexes return nil.
	Vectorize(ctx context.Context, texts []string) ([][]float32, error)
	// Add appends texts with the vectors returned by Vectorize.
	Add(texts []string, vectors [][]float32)
	Search(ctx context.Context, query string, k int) ([]Hit, error)
	Len() int
	Reset()
}

// topK orders hits by descending score, ties by position, and keeps k.
func topK(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Pos < hits[j].Pos
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
