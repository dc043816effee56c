package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seonho/gympt/internal/retrieval"
	"github.com/seonho/gympt/internal/store"
)

// ContextKind classifies the outcome of a long-term memory lookup.
type ContextKind int

const (
	// ContextNone means the gate decided no search was needed.
	ContextNone ContextKind = iota
	// ContextFound means the lookup produced at least one past pair.
	ContextFound
	// ContextEmpty means the lookup ran but matched nothing usable.
	ContextEmpty
	// ContextDegraded means a pipeline stage failed and the answer is
	// generated without long-term context.
	ContextDegraded
)

func (k ContextKind) String() string {
	switch k {
	case ContextNone:
		return "none"
	case ContextFound:
		return "found"
	case ContextEmpty:
		return "empty"
	case ContextDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("context(%d)", int(k))
	}
}

// ContextPair is one past question with the answer that followed it.
type ContextPair struct {
	Question   string
	Answer     string
	AskedAt    time.Time
	AnsweredAt time.Time
}

// ContextResult is what the long-term pipeline hands to prompt assembly.
// Embedding is the query embedding, computed only when the gate chose to
// search and reused when the turn is persisted; it is nil on the no-search
// fast path and when embedding failed.
type ContextResult struct {
	Kind      ContextKind
	Decision  Decision
	Pairs     []ContextPair
	Embedding []float32
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever returns similarity-ranked candidates for a query embedding.
type Retriever interface {
	Retrieve(ctx context.Context, owner string, query []float32) ([]retrieval.Candidate, error)
}

// Reranker reorders candidates by cross-encoder relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error)
}

// TurnStore is the slice of the persistence layer the orchestrator needs.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn store.Turn) (int64, error)
	TurnAfter(ctx context.Context, owner string, seq int64) (store.Turn, error)
	RecentTurns(ctx context.Context, owner string, limit int) ([]store.Turn, error)
}

// Manager ties the gate, retriever, reranker, short-term cache, and turn
// store into the per-message memory flow.
type Manager struct {
	store     TurnStore
	embedder  Embedder
	retriever Retriever
	reranker  Reranker
	gate      *Gate
	cache     *ShortTermCache
	logger    *slog.Logger
}

// NewManager creates a memory Manager.
func NewManager(turns TurnStore, embedder Embedder, retriever Retriever, reranker Reranker, gate *Gate, cache *ShortTermCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     turns,
		embedder:  embedder,
		retriever: retriever,
		reranker:  reranker,
		gate:      gate,
		cache:     cache,
		logger:    logger,
	}
}

// LongTermContext runs the gated retrieve/re-rank/pair pipeline for one
// incoming question. Pipeline failures degrade to an answer without
// long-term context instead of failing the request.
func (m *Manager) LongTermContext(ctx context.Context, owner, question string) ContextResult {
	decision := m.gate.Decide(ctx, question, m.cache.History(owner))
	if decision == NoSearch {
		return ContextResult{Kind: ContextNone, Decision: decision}
	}

	embedding, err := m.embedder.Embed(ctx, question)
	if err != nil {
		m.logger.Warn("embedding question failed, answering without long-term memory",
			slog.String("owner", owner), slog.String("error", err.Error()))
		return ContextResult{Kind: ContextDegraded, Decision: decision}
	}

	candidates, err := m.retriever.Retrieve(ctx, owner, embedding)
	if err != nil {
		m.logger.Warn("retrieval failed, answering without long-term memory",
			slog.String("owner", owner), slog.String("error", err.Error()))
		return ContextResult{Kind: ContextDegraded, Decision: decision, Embedding: embedding}
	}
	if len(candidates) == 0 {
		return ContextResult{Kind: ContextEmpty, Decision: decision, Embedding: embedding}
	}

	ranked, err := m.reranker.Rerank(ctx, question, candidates)
	if err != nil {
		m.logger.Warn("re-ranking failed, answering without long-term memory",
			slog.String("owner", owner), slog.String("error", err.Error()))
		return ContextResult{Kind: ContextDegraded, Decision: decision, Embedding: embedding}
	}

	pairs := m.pairWithAnswers(ctx, owner, ranked)
	if len(pairs) == 0 {
		return ContextResult{Kind: ContextEmpty, Decision: decision, Embedding: embedding}
	}
	return ContextResult{Kind: ContextFound, Decision: decision, Pairs: pairs, Embedding: embedding}
}

// pairWithAnswers joins each retained question with the turn that followed
// it. A question whose next turn is missing or not from the assistant is
// dropped: an unanswered question carries no reusable context.
func (m *Manager) pairWithAnswers(ctx context.Context, owner string, ranked []retrieval.Candidate) []ContextPair {
	var pairs []ContextPair
	for _, c := range ranked {
		next, err := m.store.TurnAfter(ctx, owner, c.Seq)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("looking up answer turn failed",
					slog.String("owner", owner), slog.Int64("seq", c.Seq),
					slog.String("error", err.Error()))
			}
			continue
		}
		if next.Role != store.RoleAssistant {
			continue
		}
		pairs = append(pairs, ContextPair{
			Question:   c.Text,
			Answer:     next.Content,
			AskedAt:    c.CreatedAt,
			AnsweredAt: next.CreatedAt,
		})
	}
	return pairs
}

// RecordTurnPair persists the question and answer of a completed exchange
// and mirrors them into the short-term cache. Store failures are logged
// and swallowed: the answer was already delivered, so losing the record
// must not surface as a request error.
func (m *Manager) RecordTurnPair(ctx context.Context, owner, question string, embedding []float32, answer string) {
	if _, err := m.store.AppendTurn(ctx, store.Turn{
		Owner:     owner,
		Role:      store.RoleUser,
		Content:   question,
		Embedding: embedding,
	}); err != nil {
		m.logger.Error("persisting user turn failed",
			slog.String("owner", owner), slog.String("error", err.Error()))
	}
	if _, err := m.store.AppendTurn(ctx, store.Turn{
		Owner:   owner,
		Role:    store.RoleAssistant,
		Content: answer,
	}); err != nil {
		m.logger.Error("persisting assistant turn failed",
			slog.String("owner", owner), slog.String("error", err.Error()))
	}

	m.cache.Append(owner, CacheEntry{Role: store.RoleUser, Content: question})
	m.cache.Append(owner, CacheEntry{Role: store.RoleAssistant, Content: answer})
}

// ShortTermHistory returns the owner's recent turns, warming the cache
// from the store on a cold start.
func (m *Manager) ShortTermHistory(ctx context.Context, owner string) []CacheEntry {
	if history := m.cache.History(owner); len(history) > 0 {
		return history
	}

	turns, err := m.store.RecentTurns(ctx, owner, m.cache.Cap())
	if err != nil {
		m.logger.Warn("loading recent turns failed",
			slog.String("owner", owner), slog.String("error", err.Error()))
		return nil
	}
	if len(turns) == 0 {
		return nil
	}

	entries := make([]CacheEntry, len(turns))
	for i, t := range turns {
		entries[i] = CacheEntry{Role: t.Role, Content: t.Content}
	}
	m.cache.Seed(owner, entries)
	return m.cache.History(owner)
}
