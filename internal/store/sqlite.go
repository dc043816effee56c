package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the default Store backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory database.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "gympt.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any not yet run.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Turns ---

func (s *SQLiteStore) AppendTurn(ctx context.Context, t Turn) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_turns (owner_id, role, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Owner, t.Role, t.Content, EncodeVector(t.Embedding), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading turn seq: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) EmbeddedUserTurns(ctx context.Context, owner string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = ? AND role = 'user' AND embedding IS NOT NULL
		ORDER BY seq ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying embedded turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func (s *SQLiteStore) TurnAfter(ctx context.Context, owner string, seq int64) (Turn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = ? AND seq > ?
		ORDER BY seq ASC LIMIT 1`, owner, seq)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return Turn{}, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, owner string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, owner_id, role, content, embedding, created_at
		FROM chat_turns
		WHERE owner_id = ?
		ORDER BY seq DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (Turn, error) {
	var t Turn
	var blob []byte
	var createdAt string
	if err := row.Scan(&t.Seq, &t.Owner, &t.Role, &t.Content, &blob, &createdAt); err != nil {
		return Turn{}, err
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return Turn{}, fmt.Errorf("decoding embedding for turn %d: %w", t.Seq, err)
	}
	t.Embedding = vec
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Turn{}, fmt.Errorf("parsing created_at for turn %d: %w", t.Seq, err)
	}
	t.CreatedAt = ts
	return t, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE user_id = ?", u.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking user %s: %w", u.ID, err)
	}
	if exists > 0 {
		return ErrExists
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, gender, age, height_cm, weight_kg, level, injury_level, injury_part, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Gender, u.Age, u.HeightCm, u.WeightKg, u.Level, u.InjuryLevel, u.InjuryPart,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, gender, age, height_cm, weight_kg, level, injury_level, injury_part, created_at
		FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &u.Gender, &u.Age, &u.HeightCm, &u.WeightKg, &u.Level, &u.InjuryLevel, &u.InjuryPart, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// --- Workout plans ---

func (s *SQLiteStore) UpsertWorkoutPlan(ctx context.Context, p WorkoutPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workout_plans (owner_id, plan_date, exercise_name, reps, sets, weight_kg, duration_min, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(owner_id, plan_date, exercise_name) DO UPDATE SET
			reps = excluded.reps, sets = excluded.sets, weight_kg = excluded.weight_kg,
			duration_min = excluded.duration_min, status = 'pending'`,
		p.Owner, p.PlanDate, p.ExerciseName, p.Reps, p.Sets, p.WeightKg, p.DurationMin,
	)
	return err
}

func (s *SQLiteStore) UpdateWorkoutPlanStatus(ctx context.Context, owner, planDate, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workout_plans SET status = ? WHERE owner_id = ? AND plan_date = ?",
		status, owner, planDate)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) WorkoutPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]WorkoutPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, plan_date, exercise_name, reps, sets, weight_kg, duration_min, status
		FROM workout_plans
		WHERE owner_id = ? AND plan_date BETWEEN ? AND ?
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

func (s *SQLiteStore) UpsertDietPlan(ctx context.Context, p DietPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diet_plans (owner_id, plan_date, meal_type, food_name, calories, protein_g, carbs_g, fat_g, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(owner_id, plan_date, meal_type) DO UPDATE SET
			food_name = excluded.food_name, calories = excluded.calories,
			protein_g = excluded.protein_g, carbs_g = excluded.carbs_g,
			fat_g = excluded.fat_g, status = 'pending'`,
		p.Owner, p.PlanDate, p.MealType, p.FoodName, p.Calories, p.ProteinG, p.CarbsG, p.FatG,
	)
	return err
}

func (s *SQLiteStore) UpdateDietPlanStatus(ctx context.Context, owner, planDate, mealType, status string) error {
	query := "UPDATE diet_plans SET status = ? WHERE owner_id = ? AND plan_date = ?"
	args := []any{status, owner, planDate}
	if mealType != "" {
		query += " AND meal_type = ?"
		args = append(args, mealType)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DietPlansByRange(ctx context.Context, owner, startDate, endDate string) ([]DietPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, plan_date, meal_type, food_name, calories, protein_g, carbs_g, fat_g, status
		FROM diet_plans
		WHERE owner_id = ? AND plan_date BETWEEN ? AND ?
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

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', result = ?, updated_at = ? WHERE id = ?`, result, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error, result
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError, &j.Result)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}
