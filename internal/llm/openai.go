package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	streamingTimeout = 300 * time.Second
)

// Compile-time check that OpenAIClient implements Client.
var _ Client = (*OpenAIClient)(nil)

// OpenAIClient talks to an Azure OpenAI (or OpenAI-compatible) endpoint.
// Chat and embedding calls may target different deployments behind the
// same resource endpoint.
type OpenAIClient struct {
	endpoint        string
	apiKey          string
	apiVersion      string
	chatDeployment  string
	embedDeployment string
	httpClient      *http.Client
}

// OpenAIConfig holds the connection settings for an OpenAIClient.
type OpenAIConfig struct {
	Endpoint        string
	APIKey          string
	APIVersion      string
	ChatDeployment  string
	EmbedDeployment string
}

// NewOpenAIClient creates a client for the given endpoint and deployments.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		endpoint:        strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:          cfg.APIKey,
		apiVersion:      cfg.APIVersion,
		chatDeployment:  cfg.ChatDeployment,
		embedDeployment: cfg.EmbedDeployment,
		// No client-level timeout: per-call deadlines come from the request
		// context so streaming responses are not cut off mid-read.
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) chatURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.chatDeployment, c.apiVersion)
}

func (c *OpenAIClient) embedURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		c.endpoint, c.embedDeployment, c.apiVersion)
}

// Chat sends a non-streaming completion request and returns the assistant text.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	respBody, err := c.post(ctx, c.chatURL(), body, defaultTimeout)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream sends a streaming completion request and returns the SSE body.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}
	return c.post(ctx, c.chatURL(), body, streamingTimeout)
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text via the embedding deployment.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	respBody, err := c.post(ctx, c.embedURL(), body, defaultTimeout)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp embedResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed response has no data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel runs when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
