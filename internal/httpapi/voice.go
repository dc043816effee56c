package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seonho/gympt/internal/speech"
	"github.com/seonho/gympt/internal/store"
)

type ttsRequest struct {
	Text        string `json:"text"`
	Voice       string `json:"voice,omitempty"`
	Description string `json:"description,omitempty"`
}

// handleTTS synthesizes text synchronously and returns the WAV bytes.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "speech synthesis is not configured")
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return
	}

	audio, err := s.synth.Synthesize(r.Context(), req.Text, req.Voice)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "synthesis failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(audio)
}

// handleBatchTTS enqueues a batch synthesis job and returns its id. The
// worker picks it up; clients poll GET /batch_tts/{id} for the audio.
func (s *Server) handleBatchTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return
	}

	payload, err := json.Marshal(speech.BatchPayload{
		Text:        req.Text,
		Voice:       req.Voice,
		Description: req.Description,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "encoding job payload: %v", err)
		return
	}

	job := store.Job{
		ID:          uuid.NewString(),
		Type:        speech.JobTypeBatchTTS,
		PayloadJSON: string(payload),
	}
	if err := s.store.EnqueueJob(r.Context(), job); err != nil {
		s.countTTSJob("enqueue_error")
		httpError(w, http.StatusInternalServerError, "api_error", "enqueuing job: %v", err)
		return
	}
	s.countTTSJob("enqueued")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": "pending",
	})
}

// handleBatchTTSStatus reports job progress; a completed job answers
// with the audio itself.
func (s *Server) handleBatchTTSStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "job %s not found", jobID)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
		return
	}

	switch job.Status {
	case "completed":
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(job.Result)
	case "failed":
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": job.ID,
			"status": job.Status,
			"error":  job.LastError,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func (s *Server) countTTSJob(outcome string) {
	if s.metrics != nil {
		s.metrics.TTSJobs.WithLabelValues(outcome).Inc()
	}
}
