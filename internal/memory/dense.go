package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/user/soulsync/pkg/llm"
)

// Dense scores unit vectors from an embedding backend by inner product.
type Dense struct {
	embedder llm.Embedder
	vectors  [][]float32
}

func NewDense(embedder llm.Embedder) *Dense {
	return &Dense{embedder: embedder}
}

func (d *Dense) Name() string { return "dense" }

func (d *Dense) Len() int { return len(d.vectors) }

func (d *Dense) Reset() { d.vectors = nil }

func (d *Dense) Vectorize(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i := range vecs {
		vecs[i] = unit(vecs[i])
	}
	return vecs, nil
}

// Add appends vectors. A missing vector keeps its slot so positions stay
// aligned with entries; it never matches.
func (d *Dense) Add(texts []string, vectors [][]float32) {
	for i := range texts {
		var v []float32
		if i < len(vectors) {
			v = vectors[i]
		}
		d.vectors = append(d.vectors, v)
	}
}

func (d *Dense) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if len(d.vectors) == 0 {
		return nil, nil
	}
	qv, err := d.Vectorize(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	q := qv[0]

	hits := make([]Hit, 0, len(d.vectors))
	for i, v := range d.vectors {
		if len(v) != len(q) {
			continue
		}
		var score float64
		for j := range v {
			score += float64(v[j]) * float64(q[j])
		}
		hits = append(hits, Hit{Pos: i, Score: score})
	}
	return topK(hits, k), nil
}

func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
