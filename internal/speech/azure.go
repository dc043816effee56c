package speech

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultVoice reads answers in Korean.
const DefaultVoice = "ko-KR-SunHiNeural"

const (
	outputFormat    = "riff-8khz-16bit-mono-pcm"
	batchAPIVersion = "2024-04-01"

	batchPollInterval = 5 * time.Second
	batchPollLimit    = 18
)

// Synthesizer converts text into WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// AzureSynthesizer calls the Azure Speech REST endpoints. The realtime
// endpoint handles single requests; BatchSynthesize submits a batch job
// to the regional endpoint and polls it to completion.
type AzureSynthesizer struct {
	endpoint   string
	region     string
	key        string
	httpClient *http.Client
}

// AzureConfig holds the speech service connection settings.
type AzureConfig struct {
	Endpoint string
	Region   string
	Key      string
}

// NewAzureSynthesizer creates a synthesizer for the given speech resource.
func NewAzureSynthesizer(cfg AzureConfig, httpClient *http.Client) *AzureSynthesizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AzureSynthesizer{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		region:     cfg.Region,
		key:        cfg.Key,
		httpClient: httpClient,
	}
}

// Synthesize renders text to WAV through the realtime endpoint. The text
// is cleaned before synthesis; empty cleaned text is an error.
func (s *AzureSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	cleaned := CleanForSpeech(text)
	if cleaned == "" {
		return nil, fmt.Errorf("no speakable text after cleaning")
	}

	ssml := fmt.Sprintf(
		"<speak version='1.0' xml:lang='ko-KR'><voice xml:lang='ko-KR' name='%s'>%s</voice></speak>",
		voice, cleaned)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("creating synthesis request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("Content-Type", "application/ssml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis failed with status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

type batchCreateRequest struct {
	Description string         `json:"description,omitempty"`
	InputKind   string         `json:"inputKind"`
	Inputs      []batchInput   `json:"inputs"`
	Properties  map[string]any `json:"properties"`
}

type batchInput struct {
	Content string `json:"content"`
}

type batchStatusResponse struct {
	Status  string `json:"status"`
	Outputs struct {
		Result string `json:"result"`
	} `json:"outputs"`
}

// BatchSynthesize submits one batch synthesis job and polls until it
// finishes, then downloads the result archive and extracts the audio.
// Suited to long texts the realtime endpoint rejects.
func (s *AzureSynthesizer) BatchSynthesize(ctx context.Context, text, voice, description string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	cleaned := CleanForSpeech(text)
	if cleaned == "" {
		return nil, fmt.Errorf("no speakable text after cleaning")
	}

	ssml := fmt.Sprintf(
		`<speak version="1.0" xml:lang="ko-KR"><voice name="%s">%s</voice></speak>`,
		voice, cleaned)

	jobURL := fmt.Sprintf(
		"https://%s.api.cognitive.microsoft.com/texttospeech/batchsyntheses/b_%s?api-version=%s",
		s.region, uuid.NewString(), batchAPIVersion)

	body, err := json.Marshal(batchCreateRequest{
		Description: description,
		InputKind:   "SSML",
		Inputs:      []batchInput{{Content: ssml}},
		Properties: map[string]any{
			"outputFormat":            outputFormat,
			"wordBoundaryEnabled":     false,
			"sentenceBoundaryEnabled": false,
			"concatenateResult":       false,
			"decompressOutputFiles":   false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, jobURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating batch job: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("batch job rejected with status %d: %s", resp.StatusCode, string(respBody))
	}

	resultURL, err := s.pollBatch(ctx, jobURL)
	if err != nil {
		return nil, err
	}
	return s.downloadAudio(ctx, resultURL)
}

func (s *AzureSynthesizer) pollBatch(ctx context.Context, jobURL string) (string, error) {
	ticker := time.NewTicker(batchPollInterval)
	defer ticker.Stop()

	for i := 0; i < batchPollLimit; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
		if err != nil {
			return "", fmt.Errorf("creating poll request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", s.key)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			continue
		}
		var status batchStatusResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			continue
		}

		switch status.Status {
		case "Succeeded":
			if status.Outputs.Result == "" {
				return "", fmt.Errorf("batch job succeeded without a result URL")
			}
			return status.Outputs.Result, nil
		case "Failed", "Canceled":
			return "", fmt.Errorf("batch job ended with status %s", status.Status)
		}
	}
	return "", fmt.Errorf("batch job did not finish within %s", batchPollLimit*batchPollInterval)
}

// downloadAudio fetches the result archive and returns the first WAV
// entry, falling back to MP3 when the service returns compressed output.
func (s *AzureSynthesizer) downloadAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading result archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result download failed with status %d", resp.StatusCode)
	}

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading result archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("opening result archive: %w", err)
	}

	for _, ext := range []string{".wav", ".mp3"} {
		for _, f := range zr.File {
			if !strings.HasSuffix(strings.ToLower(f.Name), ext) {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("opening archive entry %s: %w", f.Name, err)
			}
			audio, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("reading archive entry %s: %w", f.Name, err)
			}
			return audio, nil
		}
	}
	return nil, fmt.Errorf("result archive contains no audio files")
}
