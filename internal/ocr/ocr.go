// Package ocr extracts text from uploaded images, used to read body
// composition sheets before they reach the chat model.
package ocr

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

// Reader extracts plain text from image bytes. An image with no readable
// text yields an empty string, not an error.
type Reader interface {
	ReadText(ctx context.Context, image []byte) (string, error)
}

// AzureReader calls the Azure AI Vision image analysis endpoint with the
// READ feature.
type AzureReader struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

// NewAzureReader creates a reader for the given Vision resource.
func NewAzureReader(endpoint, key string, httpClient *http.Client) *AzureReader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AzureReader{
		endpoint:   strings.TrimRight(endpoint, "/"),
		key:        key,
		httpClient: httpClient,
	}
}

type analyzeResponse struct {
	ReadResult struct {
		Blocks []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"blocks"`
	} `json:"readResult"`
}

// ReadText runs OCR over the image and returns the recognized lines
// joined by newlines.
func (r *AzureReader) ReadText(ctx context.Context, image []byte) (string, error) {
	url := fmt.Sprintf("%s/computervision/imageanalysis:analyze?api-version=2024-02-01&features=read", r.endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", r.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("analyze failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding analyze response: %w", err)
	}

	var lines []string
	for _, block := range result.ReadResult.Blocks {
		for _, line := range block.Lines {
			lines = append(lines, line.Text)
		}
	}
	return strings.Join(lines, "\n"), nil
}
