package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating a record that already exists.
var ErrExists = errors.New("already exists")

// Conversation turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one utterance in a conversation. Turns are append-only and
// immutable once stored. Embedding is nil except for user turns that
// triggered a long-term memory search.
type Turn struct {
	Seq       int64
	Owner     string
	Role      string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// User holds the signup profile for an owner.
type User struct {
	ID          string
	Gender      string
	Age         int
	HeightCm    float64
	WeightKg    float64
	Level       string
	InjuryLevel int
	InjuryPart  string
	CreatedAt   time.Time
}

// WorkoutPlan is one exercise scheduled for an owner on a date.
// Zero-valued Reps/Sets/WeightKg/DurationMin mean "not applicable"
// (bodyweight exercises carry no weight, timed ones no reps).
type WorkoutPlan struct {
	ID           int64   `json:"id"`
	Owner        string  `json:"user_id"`
	PlanDate     string  `json:"plan_date"` // YYYY-MM-DD
	ExerciseName string  `json:"exercise_name"`
	Reps         int     `json:"reps,omitempty"`
	Sets         int     `json:"sets,omitempty"`
	WeightKg     float64 `json:"weight_kg,omitempty"`
	DurationMin  int     `json:"duration_min,omitempty"`
	Status       string  `json:"status"` // "pending", "completed", "skipped"
}

// DietPlan is one meal scheduled for an owner on a date.
type DietPlan struct {
	ID       int64   `json:"id"`
	Owner    string  `json:"user_id"`
	PlanDate string  `json:"plan_date"` // YYYY-MM-DD
	MealType string  `json:"meal_type"` // "breakfast", "lunch", "dinner"
	FoodName string  `json:"food_name"`
	Calories int     `json:"calories,omitempty"`
	ProteinG float64 `json:"protein_g,omitempty"`
	CarbsG   float64 `json:"carbs_g,omitempty"`
	FatG     float64 `json:"fat_g,omitempty"`
	Status   string  `json:"status"`
}

// Job is a durable background task (currently batch TTS synthesis).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	Result      []byte
}
