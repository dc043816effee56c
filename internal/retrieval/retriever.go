// Package retrieval implements the first stage of the long-term memory
// pipeline: brute-force cosine similarity between a query embedding and an
// owner's stored user-turn embeddings. A linear scan is acceptable while
// each owner's history stays small; it does not scale to large histories.
package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/seonho/gympt/internal/store"
)

const defaultRetrieveK = 10

// Candidate is a retrieved user turn with its similarity score. Transient;
// it exists only between the retrieve and re-rank stages of one request.
type Candidate struct {
	Seq       int64
	Text      string
	Score     float32
	CreatedAt time.Time
}

// TurnSource provides the embedded user turns to scan.
type TurnSource interface {
	EmbeddedUserTurns(ctx context.Context, owner string) ([]store.Turn, error)
}

// Retriever ranks an owner's embedded user turns by cosine similarity
// to a query embedding.
type Retriever struct {
	source TurnSource
	topK   int
}

// NewRetriever creates a Retriever over the given turn source.
// topK defaults to 10 if <= 0.
func NewRetriever(source TurnSource, topK int) *Retriever {
	if topK <= 0 {
		topK = defaultRetrieveK
	}
	return &Retriever{source: source, topK: topK}
}

// Retrieve returns up to topK candidates for the owner ranked by descending
// cosine similarity to the query vector. An owner with no embedded history
// yields a nil slice, which means "nothing to retrieve", not an error.
// Ties are broken arbitrarily.
func (r *Retriever) Retrieve(ctx context.Context, owner string, query []float32) ([]Candidate, error) {
	turns, err := r.source.EmbeddedUserTurns(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("fetching embedded turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, nil
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &candidateHeap{}
	heap.Init(h)

	for _, t := range turns {
		score := cosine(query, t.Embedding, queryNorm)
		c := Candidate{Seq: t.Seq, Text: t.Content, Score: score, CreatedAt: t.CreatedAt}
		if h.Len() < r.topK {
			heap.Push(h, c)
		} else if score > (*h)[0].Score {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	// Drain the min-heap into descending score order.
	results := make([]Candidate, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Candidate)
	}
	return results, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm). aNorm is the precomputed L2
// norm of a. Mismatched dimensions or a zero-norm b score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// candidateHeap is a min-heap of Candidates ordered by Score. Used to track
// the top-K during the scan.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
