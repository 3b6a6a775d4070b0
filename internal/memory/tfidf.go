package memory

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strings"
)

var tokenRE = regexp.MustCompile(`[a-z0-9]{2,}`)

var stopWords = func() map[string]bool {
	words := strings.Fields(`a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during each few for from
		further had has have having he her here hers herself him himself his how i if in into is it its
		itself just me more most my myself no nor not now of off on once only or other our ours ourselves
		out over own same she should so some such than that the their theirs them themselves then there
		these they this those through to too under until up very was we were what when where which while
		who whom why will with would you your yours yourself yourselves also get got ll re ve`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

func tokenize(text string) []string {
	raw := tokenRE.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// sparseVec holds term weights sorted by term. Sums run in that order, so
// identical texts always produce bit-identical scores.
type sparseVec []termWeight

type termWeight struct {
	term string
	w    float64
}

// dot merges two term-sorted vectors.
func (a sparseVec) dot(b sparseVec) float64 {
	var sum float64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i].term < b[j].term:
			i++
		case a[i].term > b[j].term:
			j++
		default:
			sum += a[i].w * b[j].w
			i++
			j++
		}
	}
	return sum
}

// TFIDF is a sparse term-weighted cosine index. Weights are recomputed from
// all documents on every Add.
type TFIDF struct {
	docs    []map[string]int
	df      map[string]int
	idf     map[string]float64
	vectors []sparseVec
}

func NewTFIDF() *TFIDF {
	t := &TFIDF{}
	t.Reset()
	return t
}

func (t *TFIDF) Name() string { return "tfidf" }

func (t *TFIDF) Len() int { return len(t.docs) }

func (t *TFIDF) Reset() {
	t.docs = nil
	t.df = make(map[string]int)
	t.idf = make(map[string]float64)
	t.vectors = nil
}

func (t *TFIDF) Vectorize(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func (t *TFIDF) Add(texts []string, _ [][]float32) {
	for _, text := range texts {
		counts := termCounts(text)
		for term := range counts {
			t.df[term]++
		}
		t.docs = append(t.docs, counts)
	}
	t.rebuild()
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	return counts
}

func (t *TFIDF) rebuild() {
	n := float64(len(t.docs))
	t.idf = make(map[string]float64, len(t.df))
	for term, df := range t.df {
		t.idf[term] = math.Log((1+n)/(1+float64(df))) + 1
	}
	t.vectors = make([]sparseVec, len(t.docs))
	for i, counts := range t.docs {
		t.vectors[i] = t.weigh(counts)
	}
}

// weigh builds the unit tf-idf vector for counts. Terms unknown to the
// corpus are dropped.
func (t *TFIDF) weigh(counts map[string]int) sparseVec {
	v := make(sparseVec, 0, len(counts))
	for term, c := range counts {
		if idf, ok := t.idf[term]; ok {
			v = append(v, termWeight{term: term, w: float64(c) * idf})
		}
	}
	slices.SortFunc(v, func(a, b termWeight) int { return strings.Compare(a.term, b.term) })

	var sum float64
	for _, tw := range v {
		sum += tw.w * tw.w
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i].w /= norm
	}
	return v
}

// Search scores every document against the query and drops non-positive
// scores.
func (t *TFIDF) Search(_ context.Context, query string, k int) ([]Hit, error) {
	q := t.weigh(termCounts(query))
	if len(q) == 0 {
		return nil, nil
	}

	var hits []Hit
	for i, doc := range t.vectors {
		if score := q.dot(doc); score > 0 {
			hits = append(hits, Hit{Pos: i, Score: score})
		}
	}
	return topK(hits, k), nil
}
