package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Scorer produces one relevance score per candidate text for a query.
// Unlike the cosine stage, a cross-encoder reads query and candidate
// jointly, so scores are not comparable across queries.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// HTTPScorer calls a hosted cross-encoder scoring endpoint. The endpoint
// accepts {"query": ..., "texts": [...]} and returns {"scores": [...]} in
// the same order as the input texts.
type HTTPScorer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(endpoint, apiKey string, httpClient *http.Client) *HTTPScorer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPScorer{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type scoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding score response: %w", err)
	}
	if len(out.Scores) != len(texts) {
		return nil, fmt.Errorf("scorer returned %d scores for %d texts", len(out.Scores), len(texts))
	}
	return out.Scores, nil
}
