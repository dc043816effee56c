package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/seonho/gympt/internal/store"
)

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validStatus(s string) bool {
	switch s {
	case "pending", "completed", "skipped":
		return true
	}
	return false
}

// dateRange pulls and validates the start/end date path parameters.
func dateRange(w http.ResponseWriter, r *http.Request) (start, end string, ok bool) {
	start = chi.URLParam(r, "startDate")
	end = chi.URLParam(r, "endDate")
	if !validDate(start) || !validDate(end) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "dates must be YYYY-MM-DD")
		return "", "", false
	}
	return start, end, true
}

// requireOwner enforces the user_id query parameter on plan routes.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerID(r)
	if owner == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id query parameter is required")
		return "", false
	}
	return owner, true
}

// handlePlansRange returns both workout and diet plans for a date range,
// the shape the calendar view consumes.
func (s *Server) handlePlansRange(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}

	var (
		workouts []store.WorkoutPlan
		diets    []store.DietPlan
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		workouts, err = s.store.WorkoutPlansByRange(ctx, owner, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		diets, err = s.store.DietPlansByRange(ctx, owner, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading plans: %v", err)
		return
	}

	if workouts == nil {
		workouts = []store.WorkoutPlan{}
	}
	if diets == nil {
		diets = []store.DietPlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workout_plans": workouts,
		"diet_plans":    diets,
	})
}

type workoutPlanRequest struct {
	ExerciseName string  `json:"exercise_name"`
	Reps         int     `json:"reps,omitempty"`
	Sets         int     `json:"sets,omitempty"`
	WeightKg     float64 `json:"weight_kg,omitempty"`
	DurationMin  int     `json:"duration_min,omitempty"`
}

func (s *Server) handleCreateWorkoutPlan(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	planDate := chi.URLParam(r, "planDate")
	if !validDate(planDate) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "plan date must be YYYY-MM-DD")
		return
	}

	var req workoutPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.ExerciseName == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "exercise_name is required")
		return
	}

	plan := store.WorkoutPlan{
		Owner:        owner,
		PlanDate:     planDate,
		ExerciseName: req.ExerciseName,
		Reps:         req.Reps,
		Sets:         req.Sets,
		WeightKg:     req.WeightKg,
		DurationMin:  req.DurationMin,
		Status:       "pending",
	}
	if err := s.store.UpsertWorkoutPlan(r.Context(), plan); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "saving workout plan: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleUpdateWorkoutStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	planDate := chi.URLParam(r, "planDate")
	status := chi.URLParam(r, "status")
	if !validDate(planDate) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "plan date must be YYYY-MM-DD")
		return
	}
	if !validStatus(status) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be pending, completed, or skipped")
		return
	}

	err := s.store.UpdateWorkoutPlanStatus(r.Context(), owner, planDate, status)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "no workout plan for %s on %s", owner, planDate)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "updating workout status: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plan_date": planDate, "status": status})
}

type dietPlanRequest struct {
	FoodName string  `json:"food_name"`
	Calories int     `json:"calories,omitempty"`
	ProteinG float64 `json:"protein_g,omitempty"`
	CarbsG   float64 `json:"carbs_g,omitempty"`
	FatG     float64 `json:"fat_g,omitempty"`
}

func (s *Server) handleCreateDietPlan(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	planDate := chi.URLParam(r, "planDate")
	mealType := chi.URLParam(r, "mealType")
	if !validDate(planDate) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "plan date must be YYYY-MM-DD")
		return
	}

	var req dietPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.FoodName == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "food_name is required")
		return
	}

	plan := store.DietPlan{
		Owner:    owner,
		PlanDate: planDate,
		MealType: mealType,
		FoodName: req.FoodName,
		Calories: req.Calories,
		ProteinG: req.ProteinG,
		CarbsG:   req.CarbsG,
		FatG:     req.FatG,
		Status:   "pending",
	}
	if err := s.store.UpsertDietPlan(r.Context(), plan); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "saving diet plan: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleDietPlansRange(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}

	plans, err := s.store.DietPlansByRange(r.Context(), owner, start, end)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading diet plans: %v", err)
		return
	}
	if plans == nil {
		plans = []store.DietPlan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleUpdateDietStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	planDate := chi.URLParam(r, "planDate")
	mealType := chi.URLParam(r, "mealType")
	status := chi.URLParam(r, "status")
	if !validDate(planDate) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "plan date must be YYYY-MM-DD")
		return
	}
	if !validStatus(status) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be pending, completed, or skipped")
		return
	}

	err := s.store.UpdateDietPlanStatus(r.Context(), owner, planDate, mealType, status)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "no diet plan for %s on %s", owner, planDate)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "updating diet status: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plan_date": planDate, "meal_type": mealType, "status": status})
}
