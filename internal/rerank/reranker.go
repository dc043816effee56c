// Package rerank implements the second stage of the long-term memory
// pipeline. A cross-encoder re-scores the cosine-similarity candidates
// against the query and keeps the best few, trading latency for precision
// on the small candidate set.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/seonho/gympt/internal/retrieval"
)

const defaultFinalK = 3

// Reranker reorders retrieval candidates by cross-encoder score and keeps
// the top finalK. If the scorer fails, the candidates pass through in
// their original order so a flaky scoring endpoint degrades precision
// instead of breaking retrieval.
type Reranker struct {
	scorer Scorer
	finalK int
	logger *slog.Logger
}

// NewReranker creates a Reranker. finalK defaults to 3 if <= 0.
func NewReranker(scorer Scorer, finalK int, logger *slog.Logger) *Reranker {
	if finalK <= 0 {
		finalK = defaultFinalK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{scorer: scorer, finalK: finalK, logger: logger}
}

// Rerank returns up to finalK candidates ordered by descending cross-encoder
// score. An empty input returns empty without calling the scorer.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		r.logger.Warn("cross-encoder scoring failed, keeping similarity order",
			slog.String("error", err.Error()))
		return truncate(candidates, r.finalK), nil
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}

	type scored struct {
		candidate retrieval.Candidate
		score     float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{candidate: c, score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]retrieval.Candidate, 0, r.finalK)
	for _, s := range ranked {
		if len(out) == r.finalK {
			break
		}
		out = append(out, s.candidate)
	}
	return out, nil
}

func truncate(candidates []retrieval.Candidate, k int) []retrieval.Candidate {
	if len(candidates) > k {
		return candidates[:k]
	}
	return candidates
}
