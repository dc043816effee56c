package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seonho/gympt/internal/llm"
	"github.com/seonho/gympt/internal/prompt"
)

const (
	generationTemperature = 0.2
	generationMaxTokens   = 2500
)

type chatRequest struct {
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.UserID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return
	}
	if req.Message == "" && req.ImageBase64 == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message or image_base64 is required")
		return
	}

	ocrText := s.extractImageText(r.Context(), req.ImageBase64)
	history := s.memory.ShortTermHistory(r.Context(), req.UserID)

	start := time.Now()
	result := s.memory.LongTermContext(r.Context(), req.UserID, req.Message)
	if s.metrics != nil {
		s.metrics.GateDecisions.WithLabelValues(result.Decision.String()).Inc()
		s.metrics.ContextPairs.Observe(float64(len(result.Pairs)))
		s.metrics.ObserveRetrieval(time.Since(start))
	}

	messages := prompt.Build(prompt.Input{
		UserMessage: req.Message,
		OCRText:     ocrText,
		Pairs:       result.Pairs,
		History:     history,
		Now:         time.Now(),
	})

	stream, err := s.llm.ChatStream(r.Context(), messages, llm.ChatOptions{
		Temperature: generationTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if err != nil {
		s.countChat("error")
		httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
		return
	}
	defer stream.Close()

	answer, completed := s.streamAnswer(w, stream)
	if !completed {
		s.countChat("error")
		return
	}
	s.countChat("ok")

	// Persist detached from the request context so a client disconnect
	// after the final token does not lose the turn.
	persistCtx := context.WithoutCancel(r.Context())
	go s.memory.RecordTurnPair(persistCtx, req.UserID, req.Message, result.Embedding, answer)
}

// extractImageText decodes and OCRs an uploaded image. Any failure
// degrades to an empty string; the chat proceeds without image context.
func (s *Server) extractImageText(ctx context.Context, imageBase64 string) string {
	if imageBase64 == "" || s.ocr == nil {
		return ""
	}
	image, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		s.logger.Warn("invalid image encoding", slog.String("error", err.Error()))
		return ""
	}
	text, err := s.ocr.ReadText(ctx, image)
	if err != nil {
		s.logger.Warn("image ocr failed", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// streamAnswer forwards the upstream SSE stream to the client while
// accumulating the delta contents into the full answer text. Returns
// the answer and whether the stream ran to completion.
func (s *Server) streamAnswer(w http.ResponseWriter, stream io.Reader) (string, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return "", false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var answer strings.Builder
	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			w.Write(line)
			flusher.Flush()

			if data, found := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data: ")); found && !isDone(data) {
				answer.WriteString(deltaContent(data))
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("generation stream interrupted", slog.String("error", err.Error()))
				return "", false
			}
			break
		}
	}
	return answer.String(), true
}

func (s *Server) countChat(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatRequests.WithLabelValues(outcome).Inc()
	}
}

// streamDelta is the shape of one upstream SSE chunk we care about.
type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// deltaContent extracts the text delta from one SSE data payload.
func deltaContent(data []byte) string {
	var chunk streamDelta
	if err := json.Unmarshal(data, &chunk); err != nil {
		return ""
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

var donePayload = []byte("[DONE]")

func isDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), donePayload)
}
