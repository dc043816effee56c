package store

import (
	"context"
	"strings"
)

// Store is the durable relational backend shared by the memory subsystem,
// the plan CRUD layer, and the batch TTS job queue. Two implementations
// exist: SQLite (default, local file) and PostgreSQL (when a database URL
// is configured). All turn writes are append-only single-row inserts, so
// no cross-statement transaction coordination is needed by callers.
type Store interface {
	// AppendTurn inserts a turn and returns its sequence identifier.
	// The sequence is monotonically increasing per backend; a user turn's
	// answer is the owner's next-higher-seq assistant turn.
	AppendTurn(ctx context.Context, t Turn) (int64, error)

	// EmbeddedUserTurns returns every user turn for the owner that has a
	// stored embedding, in ascending seq order. An owner with no embedded
	// history yields an empty slice, not an error.
	EmbeddedUserTurns(ctx context.Context, owner string) ([]Turn, error)

	// TurnAfter returns the single turn with the smallest seq greater than
	// the given seq for the owner, or ErrNotFound.
	TurnAfter(ctx context.Context, owner string, seq int64) (Turn, error)

	// RecentTurns returns the owner's newest turns, capped at limit,
	// in chronological order.
	RecentTurns(ctx context.Context, owner string, limit int) ([]Turn, error)

	// Users.
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)

	// Workout plans. Upsert is keyed on (owner, date, exercise).
	UpsertWorkoutPlan(ctx context.Context, p WorkoutPlan) error
	UpdateWorkoutPlanStatus(ctx context.Context, owner, planDate, status string) error
	WorkoutPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]WorkoutPlan, error)

	// Diet plans. Upsert is keyed on (owner, date, meal type).
	UpsertDietPlan(ctx context.Context, p DietPlan) error
	UpdateDietPlanStatus(ctx context.Context, owner, planDate, mealType, status string) error
	DietPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]DietPlan, error)

	// Jobs.
	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, types []string) (*Job, error)
	CompleteJob(ctx context.Context, id string, result []byte) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetJob(ctx context.Context, id string) (Job, error)

	Close() error
}

// Open creates a PostgreSQL-backed store when databaseURL is set, otherwise
// a SQLite store in dataDir. Pass ":memory:" as dataDir for an in-memory
// SQLite database (used by tests).
func Open(ctx context.Context, dataDir, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return OpenPostgres(ctx, databaseURL)
	}
	return OpenSQLite(dataDir)
}
