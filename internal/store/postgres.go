package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the Store backed by PostgreSQL, used when a database URL
// is configured. Schema is created on open.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to PostgreSQL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			seq BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_owner_seq ON chat_turns (owner_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_owner_role ON chat_turns (owner_id, role);`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			gender TEXT NOT NULL DEFAULT '',
			age INT NOT NULL DEFAULT 0,
			height_cm DOUBLE PRECISION NOT NULL DEFAULT 0,
			weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
			level TEXT NOT NULL DEFAULT '',
			injury_level INT NOT NULL DEFAULT 0,
			injury_part TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS workout_plans (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			plan_date TEXT NOT NULL,
			exercise_name TEXT NOT NULL,
			reps INT NOT NULL DEFAULT 0,
			sets INT NOT NULL DEFAULT 0,
			weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_min INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			UNIQUE (owner_id, plan_date, exercise_name)
		);`,
		`CREATE TABLE IF NOT EXISTS diet_plans (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			plan_date TEXT NOT NULL,
			meal_type TEXT NOT NULL,
			food_name TEXT NOT NULL,
			calories INT NOT NULL DEFAULT 0,
			protein_g DOUBLE PRECISION NOT NULL DEFAULT 0,
			carbs_g DOUBLE PRECISION NOT NULL DEFAULT 0,
			fat_g DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			UNIQUE (owner_id, plan_date, meal_type)
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			run_after TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT NOT NULL DEFAULT '',
			result BYTEA
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Turns ---

func (s *PostgresStore) AppendTurn(ctx context.Context, t Turn) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var seq int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_turns (owner_id, role, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		t.Owner, t.Role, t.Content, EncodeVector(t.Embedding), createdAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) EmbeddedUserTurns(ctx context.Context, owner string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = $1 AND role = 'user' AND embedding IS NOT NULL
		ORDER BY seq ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying embedded turns: %w", err)
	}
	defer rows.Close()
	return scanPGTurns(rows)
}

func (s *PostgresStore) TurnAfter(ctx context.Context, owner string, seq int64) (Turn, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = $1 AND seq > $2
		ORDER BY seq ASC LIMIT 1`, owner, seq)
	t, err := scanPGTurn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) RecentTurns(ctx context.Context, owner string, limit int) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = $1
		ORDER BY seq DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanPGTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func scanPGTurn(row pgx.Row) (Turn, error) {
	var t Turn
	var blob []byte
	if err := row.Scan(&t.Seq, &t.Owner, &t.Role, &t.Content, &blob, &t.CreatedAt); err != nil {
		return Turn{}, err
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return Turn{}, fmt.Errorf("decoding embedding for turn %d: %w", t.Seq, err)
	}
	t.Embedding = vec
	return t, nil
}

func scanPGTurns(rows pgx.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		t, err := scanPGTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, gender, age, height_cm, weight_kg, level, injury_level, injury_part, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING`,
		u.ID, u.Gender, u.Age, u.HeightCm, u.WeightKg, u.Level, u.InjuryLevel, u.InjuryPart, createdAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, gender, age, height_cm, weight_kg, level, injury_level, injury_part, created_at
		FROM users WHERE user_id = $1`, id,
	).Scan(&u.ID, &u.Gender, &u.Age, &u.HeightCm, &u.WeightKg, &u.Level, &u.InjuryLevel, &u.InjuryPart, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// --- Workout plans ---

func (s *PostgresStore) UpsertWorkoutPlan(ctx context.Context, p WorkoutPlan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workout_plans (owner_id, plan_date, exercise_name, reps, sets, weight_kg, duration_min, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (owner_id, plan_date, exercise_name) DO UPDATE SET
			reps = EXCLUDED.reps, sets = EXCLUDED.sets, weight_kg = EXCLUDED.weight_kg,
			duration_min = EXCLUDED.duration_min, status = 'pending'`,
		p.Owner, p.PlanDate, p.ExerciseName, p.Reps, p.Sets, p.WeightKg, p.DurationMin,
	)
	return err
}

func (s *PostgresStore) UpdateWorkoutPlanStatus(ctx context.Context, owner, planDate, status string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE workout_plans SET status = $1 WHERE owner_id = $2 AND plan_date = $3",
		status, owner, planDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) WorkoutPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]WorkoutPlan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, plan_date, exercise_name, reps, sets, weight_kg, duration_min, status
		FROM workout_plans
		WHERE owner_id = $1 AND plan_date BETWEEN $2 AND $3
		ORDER BY plan_date`, owner, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []WorkoutPlan
	for rows.Next() {
		var p WorkoutPlan
		if err := rows.Scan(&p.ID, &p.Owner, &p.PlanDate, &p.ExerciseName, &p.Reps, &p.Sets, &p.WeightKg, &p.DurationMin, &p.Status); err != nil {
			return nil, fmt.Errorf("scanning workout plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- Diet plans ---

func (s *PostgresStore) UpsertDietPlan(ctx context.Context, p DietPlan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO diet_plans (owner_id, plan_date, meal_type, food_name, calories, protein_g, carbs_g, fat_g, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		ON CONFLICT (owner_id, plan_date, meal_type) DO UPDATE SET
			food_name = EXCLUDED.food_name, calories = EXCLUDED.calories,
			protein_g = EXCLUDED.protein_g, carbs_g = EXCLUDED.carbs_g,
			fat_g = EXCLUDED.fat_g, status = 'pending'`,
		p.Owner, p.PlanDate, p.MealType, p.FoodName, p.Calories, p.ProteinG, p.CarbsG, p.FatG,
	)
	return err
}

func (s *PostgresStore) UpdateDietPlanStatus(ctx context.Context, owner, planDate, mealType, status string) error {
	query := "UPDATE diet_plans SET status = $1 WHERE owner_id = $2 AND plan_date = $3"
	args := []any{status, owner, planDate}
	if mealType != "" {
		query += " AND meal_type = $4"
		args = append(args, mealType)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DietPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]DietPlan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, plan_date, meal_type, food_name, calories, protein_g, carbs_g, fat_g, status
		FROM diet_plans
		WHERE owner_id = $1 AND plan_date BETWEEN $2 AND $3
		ORDER BY plan_date`, owner, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []DietPlan
	for rows.Next() {
		var p DietPlan
		if err := rows.Scan(&p.ID, &p.Owner, &p.PlanDate, &p.MealType, &p.FoodName, &p.Calories, &p.ProteinG, &p.CarbsG, &p.FatG, &p.Status); err != nil {
			return nil, fmt.Errorf("scanning diet plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) EnqueueJob(ctx context.Context, job Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6, $7)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var j Job
	var lastError string
	err = tx.QueryRow(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= $1 AND type = ANY($2)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now, types,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &lastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET status = 'running', updated_at = $1 WHERE id = $2`, now, j.ID); err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError
	j.UpdatedAt = now
	return &j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $1, updated_at = $2 WHERE id = $3`,
		result, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			attempts, errMsg, now, id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'pending', attempts = $1, last_error = $2, run_after = $3, updated_at = $4 WHERE id = $5`,
			attempts, errMsg, now.Add(backoff), now, id)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var lastError string
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error, result
		FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &lastError, &j.Result)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError
	return j, nil
}
