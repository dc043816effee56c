package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seonho/gympt/internal/llm"
)

const (
	gateTimeout   = 3 * time.Second
	gateMaxTokens = 5
)

// Decision is the outcome of the long-term search gate.
type Decision int

const (
	// NoSearch means the recent history is enough to answer.
	NoSearch Decision = iota
	// Search means long-term memory should be consulted.
	Search
	// SearchDegraded means the classifier failed and the pipeline falls
	// back to searching anyway.
	SearchDegraded
)

func (d Decision) String() string {
	switch d {
	case NoSearch:
		return "no_search"
	case Search:
		return "search"
	case SearchDegraded:
		return "search_degraded"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

const gateSystemPrompt = "You are a decision-making assistant. Based on the provided " +
	"'Recent Conversation History', determine if the 'User's Latest Question' can be " +
	"answered sufficiently with ONLY this history. If the question is a simple greeting " +
	"or acknowledgement (e.g., 'Hi', 'Hello', 'Thanks', 'Bye'), answer 'no' regardless " +
	"of history. If the question involves pronouns (it, that), references past events " +
	"not in the recent history, or requires deeper knowledge, you must search long-term " +
	"memory. Answer with only 'yes' (search is needed) or 'no' (search is not needed)."

// Gate asks a small classifier call whether a question needs long-term
// memory. A classifier failure fails open: searching unnecessarily only
// costs latency, while skipping a needed search loses context.
type Gate struct {
	client llm.Client
	logger *slog.Logger
}

// NewGate creates a Gate over the given chat client.
func NewGate(client llm.Client, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{client: client, logger: logger}
}

// Decide classifies whether the question needs a long-term memory search
// given the owner's recent history.
func (g *Gate) Decide(ctx context.Context, question string, history []CacheEntry) Decision {
	historyStr := "None"
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, e := range history {
			lines[i] = e.Role + ": " + e.Content
		}
		historyStr = strings.Join(lines, "\n")
	}

	gateCtx, cancel := context.WithTimeout(ctx, gateTimeout)
	defer cancel()

	answer, err := g.client.Chat(gateCtx, []llm.Message{
		{Role: "system", Content: gateSystemPrompt + "\n\n[Recent Conversation History]\n" + historyStr},
		{Role: "user", Content: "[User's Latest Question]\n" + question},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: gateMaxTokens})
	if err != nil {
		g.logger.Warn("search gate failed, searching anyway", slog.String("error", err.Error()))
		return SearchDegraded
	}

	if strings.Contains(strings.ToLower(strings.TrimSpace(answer)), "yes") {
		return Search
	}
	return NoSearch
}
