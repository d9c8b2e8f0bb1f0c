package repositories

import (
	"context"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

const lockdownColumns = `
	identity, is_locked, locked_until, lock_reason,
	requires_admin_intervention, consecutive_failures,
	lockout_cycles, first_cycle_at, updated_at`

// LockdownRepository persists per-identity escalation state.
type LockdownRepository struct {
	db *database.DB
}

// NewLockdownRepository creates a new LockdownRepository
func NewLockdownRepository(db *database.DB) *LockdownRepository {
	return &LockdownRepository{db: db}
}

func scanLockdownRow(row pgx.Row) (*models.LockdownRecord, error) {
	rec := &models.LockdownRecord{}
	err := row.Scan(
		&rec.Identity, &rec.IsLocked, &rec.LockedUntil, &rec.LockReason,
		&rec.RequiresAdminIntervention, &rec.ConsecutiveFailures,
		&rec.LockoutCycles, &rec.FirstCycleAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return rec, nil
}

// Get returns the lockdown record for an identity, or ErrNotFound.
func (r *LockdownRepository) Get(ctx context.Context, identity string) (*models.LockdownRecord, error) {
	query := `SELECT ` + lockdownColumns + ` FROM lockdown_records WHERE identity = $1`
	return scanLockdownRow(r.db.Pool.QueryRow(ctx, query, identity))
}

// IncrementFailures atomically bumps the consecutive failure count, creating
// the record on first failure, and returns the updated record. Exactly one
// concurrent caller observes each resulting count, so the threshold
// transition fires once.
func (r *LockdownRepository) IncrementFailures(ctx context.Context, identity string) (*models.LockdownRecord, error) {
	query := `
		INSERT INTO lockdown_records (identity, consecutive_failures, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (identity) DO UPDATE SET
			consecutive_failures = lockdown_records.consecutive_failures + 1,
			updated_at = NOW()
		RETURNING ` + lockdownColumns

	return scanLockdownRow(r.db.Pool.QueryRow(ctx, query, identity))
}

// ApplyTempLock marks the identity temp-locked until the given time and
// records the lockout cycle. firstCycleAt anchors the rolling escalation
// window; it is only set when the previous window has lapsed.
func (r *LockdownRepository) ApplyTempLock(ctx context.Context, identity string, until time.Time, cycles int, firstCycleAt time.Time, reason models.LockReason) (*models.LockdownRecord, error) {
	query := `
		UPDATE lockdown_records SET
			is_locked = TRUE,
			locked_until = $2,
			lock_reason = $3,
			lockout_cycles = $4,
			first_cycle_at = $5,
			updated_at = NOW()
		WHERE identity = $1
		RETURNING ` + lockdownColumns

	return scanLockdownRow(r.db.Pool.QueryRow(ctx, query, identity, until, reason, cycles, firstCycleAt))
}

// ApplyAdminLock escalates the identity to a lock only an administrator can
// clear. No countdown applies.
func (r *LockdownRepository) ApplyAdminLock(ctx context.Context, identity string, reason models.LockReason) (*models.LockdownRecord, error) {
	query := `
		UPDATE lockdown_records SET
			is_locked = TRUE,
			locked_until = NULL,
			lock_reason = $2,
			requires_admin_intervention = TRUE,
			updated_at = NOW()
		WHERE identity = $1
		RETURNING ` + lockdownColumns

	return scanLockdownRow(r.db.Pool.QueryRow(ctx, query, identity, reason))
}

// ClearOnSuccess resets failure state after a successful verification.
// Admin locks are untouched.
func (r *LockdownRepository) ClearOnSuccess(ctx context.Context, identity string) error {
	query := `
		UPDATE lockdown_records SET
			consecutive_failures = 0,
			is_locked = FALSE,
			locked_until = NULL,
			lock_reason = '',
			updated_at = NOW()
		WHERE identity = $1 AND requires_admin_intervention = FALSE
	`

	_, err := r.db.Pool.Exec(ctx, query, identity)
	return database.MapPostgresError(err)
}

// AdminUnlock clears all lock state unconditionally, including admin locks
// and the escalation cycle history.
func (r *LockdownRepository) AdminUnlock(ctx context.Context, identity string) error {
	query := `
		UPDATE lockdown_records SET
			consecutive_failures = 0,
			is_locked = FALSE,
			locked_until = NULL,
			lock_reason = '',
			requires_admin_intervention = FALSE,
			lockout_cycles = 0,
			first_cycle_at = NULL,
			updated_at = NOW()
		WHERE identity = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, identity)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteStale removes unlocked records untouched for longer than maxAge.
func (r *LockdownRepository) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `
		DELETE FROM lockdown_records
		WHERE is_locked = FALSE
		  AND requires_admin_intervention = FALSE
		  AND updated_at <= NOW() - make_interval(secs => $1)
	`

	result, err := r.db.Pool.Exec(ctx, query, maxAge.Seconds())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
