package repositories

import (
	"context"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

// AttemptCounterRepository owns the TTL'd fixed-window counters backing all
// rate limiting. Window reset and increment happen in one statement so
// concurrent callers can never both read a stale count (lost-update safety).
type AttemptCounterRepository struct {
	db *database.DB
}

// NewAttemptCounterRepository creates a new AttemptCounterRepository
func NewAttemptCounterRepository(db *database.DB) *AttemptCounterRepository {
	return &AttemptCounterRepository{db: db}
}

// Increment atomically bumps the counter for (subjectKey, action), resetting
// it first if the window has elapsed. Returns the post-increment counter.
// The count never rises past ceiling: a flood keeps the window pinned via
// last_attempt_at but cannot inflate the row indefinitely.
func (r *AttemptCounterRepository) Increment(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration, ceiling int) (*models.AttemptCounter, error) {
	query := `
		INSERT INTO attempt_counters (subject_key, action, count, window_start, last_attempt_at)
		VALUES ($1, $2, 1, NOW(), NOW())
		ON CONFLICT (subject_key, action) DO UPDATE SET
			count = CASE
				WHEN attempt_counters.window_start <= NOW() - make_interval(secs => $3)
				THEN 1
				ELSE LEAST(attempt_counters.count + 1, $4)
			END,
			window_start = CASE
				WHEN attempt_counters.window_start <= NOW() - make_interval(secs => $3)
				THEN NOW()
				ELSE attempt_counters.window_start
			END,
			last_attempt_at = NOW()
		RETURNING subject_key, action, count, window_start, last_attempt_at
	`

	counter := &models.AttemptCounter{}
	err := r.db.Pool.QueryRow(ctx, query, subjectKey, action, window.Seconds(), ceiling).Scan(
		&counter.SubjectKey,
		&counter.Action,
		&counter.Count,
		&counter.WindowStart,
		&counter.LastAttemptAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return counter, nil
}

// Peek returns the current counter without consuming an attempt. A counter
// whose window has elapsed reads as absent.
func (r *AttemptCounterRepository) Peek(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration) (*models.AttemptCounter, error) {
	query := `
		SELECT subject_key, action, count, window_start, last_attempt_at
		FROM attempt_counters
		WHERE subject_key = $1 AND action = $2
		  AND window_start > NOW() - make_interval(secs => $3)
	`

	counter := &models.AttemptCounter{}
	err := r.db.Pool.QueryRow(ctx, query, subjectKey, action, window.Seconds()).Scan(
		&counter.SubjectKey,
		&counter.Action,
		&counter.Count,
		&counter.WindowStart,
		&counter.LastAttemptAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return counter, nil
}

// Reset removes the counter for (subjectKey, action).
func (r *AttemptCounterRepository) Reset(ctx context.Context, subjectKey string, action models.ActionType) error {
	query := `DELETE FROM attempt_counters WHERE subject_key = $1 AND action = $2`
	_, err := r.db.Pool.Exec(ctx, query, subjectKey, action)
	return database.MapPostgresError(err)
}

// DeleteExpired purges counters whose window elapsed more than maxAge ago.
func (r *AttemptCounterRepository) DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `DELETE FROM attempt_counters WHERE last_attempt_at <= NOW() - make_interval(secs => $1)`
	result, err := r.db.Pool.Exec(ctx, query, maxAge.Seconds())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
