package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seonho/gympt/internal/store"
)

// JobTypeBatchTTS is the queue type for batch synthesis jobs.
const JobTypeBatchTTS = "batch_tts"

// JobQueue is the slice of the persistence layer the worker needs.
type JobQueue interface {
	ClaimNextJob(ctx context.Context, types []string) (*store.Job, error)
	CompleteJob(ctx context.Context, id string, result []byte) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// BatchSynthesizer runs one batch synthesis job to completion.
type BatchSynthesizer interface {
	BatchSynthesize(ctx context.Context, text, voice, description string) ([]byte, error)
}

// BatchPayload is the JSON payload of a batch_tts job.
type BatchPayload struct {
	Text        string `json:"text"`
	Voice       string `json:"voice,omitempty"`
	Description string `json:"description,omitempty"`
}

// Worker drains batch_tts jobs from the queue, synthesizing each text
// and storing the audio as the job result.
type Worker struct {
	queue  JobQueue
	synth  BatchSynthesizer
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. pollInterval defaults to 2s if <= 0.
func NewWorker(queue JobQueue, synth BatchSynthesizer, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: queue, synth: synth, poll: pollInterval, logger: logger}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("batch tts iteration failed", slog.String("error", err.Error()))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single batch_tts job. Returns true if a
// job was processed, regardless of whether it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextJob(ctx, []string{JobTypeBatchTTS})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	audio, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("batch tts job failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		if failErr := w.queue.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("marking job failed",
				slog.String("job_id", job.ID), slog.String("error", failErr.Error()))
		}
		return true, nil
	}

	if err := w.queue.CompleteJob(ctx, job.ID, audio); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("batch tts job completed",
		slog.String("job_id", job.ID), slog.Int("audio_bytes", len(audio)))
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *store.Job) ([]byte, error) {
	var payload BatchPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Text == "" {
		return nil, fmt.Errorf("payload has no text")
	}
	return w.synth.BatchSynthesize(ctx, payload.Text, payload.Voice, payload.Description)
}
