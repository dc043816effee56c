package httpapi

import (
	"net/http"

	"github.com/seonho/gympt/internal/youtube"
)

// handleVideoSearch answers GET /youtube/search?q=... with matching
// workout videos.
func (s *Server) handleVideoSearch(w http.ResponseWriter, r *http.Request) {
	if s.videos == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "video search is not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "q query parameter is required")
		return
	}

	videos, err := s.videos.Search(r.Context(), query)
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "video search failed: %v", err)
		return
	}
	if videos == nil {
		videos = []youtube.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}
