// Package httpapi exposes the coaching service over REST: chat with SSE
// streaming, signup, plan CRUD, voice synthesis, and video search.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seonho/gympt/internal/llm"
	"github.com/seonho/gympt/internal/memory"
	"github.com/seonho/gympt/internal/observability"
	"github.com/seonho/gympt/internal/ocr"
	"github.com/seonho/gympt/internal/speech"
	"github.com/seonho/gympt/internal/store"
	"github.com/seonho/gympt/internal/youtube"
)

const maxRequestBodySize = 8 << 20 // 8MB, chat requests may carry images

// Server bundles the handlers' dependencies. Optional integrations (OCR,
// speech, video search) may be nil; their routes then answer 503.
type Server struct {
	store   store.Store
	memory  *memory.Manager
	llm     llm.Client
	ocr     ocr.Reader
	synth   speech.Synthesizer
	videos  youtube.Searcher
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Options collects the dependencies for NewServer.
type Options struct {
	Store   store.Store
	Memory  *memory.Manager
	LLM     llm.Client
	OCR     ocr.Reader
	Synth   speech.Synthesizer
	Videos  youtube.Searcher
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   opts.Store,
		memory:  opts.Memory,
		llm:     opts.LLM,
		ocr:     opts.OCR,
		synth:   opts.Synth,
		videos:  opts.Videos,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Router returns the HTTP handler. When authToken is non-empty every
// route except health, metrics, and signup requires a bearer token.
func (s *Server) Router(authToken string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	r.Post("/users/signup", s.handleSignup)

	r.Group(func(r chi.Router) {
		if authToken != "" {
			r.Use(requireBearer(authToken))
		}

		r.Post("/chat", s.handleChat)

		r.Get("/plans/range/{startDate}/{endDate}", s.handlePlansRange)
		r.Post("/workout_plans/{planDate}", s.handleCreateWorkoutPlan)
		r.Put("/workout_plans/{planDate}/status/{status}", s.handleUpdateWorkoutStatus)
		r.Post("/diet_plans/{planDate}/{mealType}", s.handleCreateDietPlan)
		r.Get("/diet_plans/range/{startDate}/{endDate}", s.handleDietPlansRange)
		r.Put("/diet_plans/{planDate}/{mealType}/status/{status}", s.handleUpdateDietStatus)

		r.Post("/tts", s.handleTTS)
		r.Post("/batch_tts", s.handleBatchTTS)
		r.Get("/batch_tts/{jobID}", s.handleBatchTTSStatus)

		r.Get("/youtube/search", s.handleVideoSearch)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requireBearer guards the authenticated route group. The token
// comparison is constant time.
func requireBearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ownerID extracts the user identity from the query string. Routes that
// carry it in the body decode it themselves.
func ownerID(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}
