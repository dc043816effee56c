package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/seonho/gympt/internal/store"
)

type signupRequest struct {
	UserID      string  `json:"user_id"`
	Gender      string  `json:"gender,omitempty"`
	Age         int     `json:"age,omitempty"`
	HeightCm    float64 `json:"height_cm,omitempty"`
	WeightKg    float64 `json:"weight_kg,omitempty"`
	Level       string  `json:"level,omitempty"`
	InjuryLevel int     `json:"injury_level,omitempty"`
	InjuryPart  string  `json:"injury_part,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.UserID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return
	}

	err := s.store.CreateUser(r.Context(), store.User{
		ID:          req.UserID,
		Gender:      req.Gender,
		Age:         req.Age,
		HeightCm:    req.HeightCm,
		WeightKg:    req.WeightKg,
		Level:       req.Level,
		InjuryLevel: req.InjuryLevel,
		InjuryPart:  req.InjuryPart,
	})
	if errors.Is(err, store.ErrExists) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user %s already exists", req.UserID)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "creating user: %v", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": fmt.Sprintf("%s님 가입이 완료되었습니다.", req.UserID),
	})
}
