package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(url string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		Endpoint:        url,
		APIKey:          "test-key",
		APIVersion:      "2024-02-01",
		ChatDeployment:  "gpt-4o",
		EmbedDeployment: "text-embedding-3-small",
	})
}

func TestChatRequestShape(t *testing.T) {
	var gotPath, gotQuery, gotAPIKey string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"안녕하세요!"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, ChatOptions{Temperature: 0.2, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "안녕하세요!" {
		t.Errorf("Chat = %q", got)
	}
	if gotPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "api-version=2024-02-01" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("api-key header = %q", gotAPIKey)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "hi" {
		t.Errorf("request messages = %+v", gotBody.Messages)
	}
	if gotBody.Stream {
		t.Error("non-streaming Chat set stream=true")
	}
	if gotBody.Temperature != 0.2 || gotBody.MaxTokens != 100 {
		t.Errorf("options = temp %v, max_tokens %d", gotBody.Temperature, gotBody.MaxTokens)
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Chat(context.Background(), nil, ChatOptions{}); err == nil {
		t.Error("Chat should fail on empty choices")
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Fatal("Chat should fail on non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not mention the status code", err)
	}
}

func TestChatStreamSetsStreamFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if !req.Stream {
			t.Error("ChatStream request did not set stream=true")
		}
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if !strings.Contains(string(raw), "[DONE]") {
		t.Errorf("stream body %q missing [DONE]", raw)
	}
}

func TestEmbed(t *testing.T) {
	var gotPath, gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		gotInput = req.Input
		io.WriteString(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	vec, err := newTestClient(srv.URL).Embed(context.Background(), "스쿼트 자세")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotPath != "/openai/deployments/text-embedding-3-small/embeddings" {
		t.Errorf("path = %q", gotPath)
	}
	if gotInput != "스쿼트 자세" {
		t.Errorf("input = %q", gotInput)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("embedding = %v", vec)
	}
}

func TestEmbedNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Embed(context.Background(), "q"); err == nil {
		t.Error("Embed should fail on empty data")
	}
}
