package repositories

import (
	"context"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// TwoFactorRepository persists two-factor credentials and recovery codes.
// Recovery codes live in their own table so consumption can be a single
// conditional UPDATE (exactly one concurrent consumer wins).
type TwoFactorRepository struct {
	db *database.DB
}

// NewTwoFactorRepository creates a new TwoFactorRepository
func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

const credentialColumns = `
	user_id, secret_encrypted, secret_nonce, enabled, state,
	secret_issued_at, last_accepted_step, pending_sms_code_hash,
	pending_sms_expires, last_verified_session_id, created_at, updated_at`

func scanCredentialRow(row pgx.Row) (*models.TwoFactorCredential, error) {
	cred := &models.TwoFactorCredential{}
	var smsHash *string
	err := row.Scan(
		&cred.UserID, &cred.SecretEncrypted, &cred.SecretNonce, &cred.Enabled,
		&cred.State, &cred.SecretIssuedAt, &cred.LastAcceptedStep, &smsHash,
		&cred.PendingSMSExpires, &cred.LastVerifiedSessionID, &cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if smsHash != nil {
		cred.PendingSMSCodeHash = *smsHash
	}
	return cred, nil
}

// GetByUserID returns the credential for a user, or ErrNotFound.
func (r *TwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM twofactor_credentials WHERE user_id = $1`
	return scanCredentialRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// SavePendingSecret stores a freshly generated, unconfirmed secret. An
// enabled credential is never overwritten; re-running setup before
// confirmation replaces the pending secret.
func (r *TwoFactorRepository) SavePendingSecret(ctx context.Context, userID string, encrypted, nonce []byte) error {
	query := `
		INSERT INTO twofactor_credentials
			(user_id, secret_encrypted, secret_nonce, enabled, state, secret_issued_at, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, NOW(), NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce = EXCLUDED.secret_nonce,
			state = EXCLUDED.state,
			secret_issued_at = NOW(),
			updated_at = NOW()
		WHERE twofactor_credentials.enabled = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, encrypted, nonce, models.SetupSecretGenerated)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// Enable flips the credential to enabled and installs the first recovery
// code batch in the same transaction.
func (r *TwoFactorRepository) Enable(ctx context.Context, userID string, recoveryHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE twofactor_credentials SET
				enabled = TRUE, state = $2, secret_issued_at = NULL, updated_at = NOW()
			WHERE user_id = $1 AND state = $3
		`, userID, models.SetupEnabled, models.SetupSecretGenerated)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrSetupNotPending
		}

		return insertRecoveryCodes(ctx, tx, userID, recoveryHashes)
	})
}

// Disable clears the credential and destroys every recovery code.
func (r *TwoFactorRepository) Disable(ctx context.Context, userID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE twofactor_credentials SET
				enabled = FALSE, state = $2, secret_encrypted = NULL, secret_nonce = NULL,
				last_accepted_step = 0, pending_sms_code_hash = NULL, pending_sms_expires = NULL,
				last_verified_session_id = '', updated_at = NOW()
			WHERE user_id = $1
		`, userID, models.SetupDisabled)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID)
		return database.MapPostgresError(err)
	})
}

// AdvanceAcceptedStep records a redeemed TOTP time step. The monotonic guard
// in the WHERE clause makes a concurrent replay of the same step lose.
func (r *TwoFactorRepository) AdvanceAcceptedStep(ctx context.Context, userID string, step int64) error {
	query := `
		UPDATE twofactor_credentials SET last_accepted_step = $2, updated_at = NOW()
		WHERE user_id = $1 AND last_accepted_step < $2
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, step)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConcurrencyConflict
	}
	return nil
}

// SetPendingSMS stores a pending SMS challenge hash, replacing any prior one.
func (r *TwoFactorRepository) SetPendingSMS(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	query := `
		UPDATE twofactor_credentials SET
			pending_sms_code_hash = $2, pending_sms_expires = $3, updated_at = NOW()
		WHERE user_id = $1 AND enabled = TRUE
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, codeHash, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TakePendingSMS atomically clears and returns the pending SMS challenge.
// The code is single-shot: it is gone after one verification attempt whatever
// the outcome.
func (r *TwoFactorRepository) TakePendingSMS(ctx context.Context, userID string) (string, *time.Time, error) {
	query := `
		WITH taken AS (
			SELECT user_id, pending_sms_code_hash, pending_sms_expires
			FROM twofactor_credentials
			WHERE user_id = $1 AND pending_sms_code_hash IS NOT NULL
			FOR UPDATE
		)
		UPDATE twofactor_credentials c SET
			pending_sms_code_hash = NULL, pending_sms_expires = NULL, updated_at = NOW()
		FROM taken
		WHERE c.user_id = taken.user_id
		RETURNING taken.pending_sms_code_hash, taken.pending_sms_expires
	`

	var hash string
	var expires *time.Time
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&hash, &expires)
	if err == pgx.ErrNoRows {
		return "", nil, models.ErrNotFound
	}
	if err != nil {
		return "", nil, database.MapPostgresError(err)
	}

	return hash, expires, nil
}

// SetVerifiedSession records the session that most recently satisfied 2FA.
func (r *TwoFactorRepository) SetVerifiedSession(ctx context.Context, userID, sessionID string) error {
	query := `
		UPDATE twofactor_credentials SET last_verified_session_id = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, userID, sessionID)
	return database.MapPostgresError(err)
}

// RecoveryCodeRow pairs a stored hash with its row id for consumption.
type RecoveryCodeRow struct {
	ID       string
	CodeHash string
}

// ListUnusedRecoveryCodes returns the hashes still available for a user.
func (r *TwoFactorRepository) ListUnusedRecoveryCodes(ctx context.Context, userID string) ([]RecoveryCodeRow, error) {
	query := `
		SELECT id, code_hash FROM recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	codes := make([]RecoveryCodeRow, 0)
	for rows.Next() {
		var rc RecoveryCodeRow
		if err := rows.Scan(&rc.ID, &rc.CodeHash); err != nil {
			return nil, database.MapPostgresError(err)
		}
		codes = append(codes, rc)
	}

	return codes, rows.Err()
}

// ConsumeRecoveryCode marks one code used. Returns ErrCodeAlreadyUsed when a
// concurrent request consumed it first; the conditional UPDATE guarantees a
// single winner.
func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, codeID string) error {
	query := `UPDATE recovery_codes SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`

	result, err := r.db.Pool.Exec(ctx, query, codeID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrCodeAlreadyUsed
	}
	return nil
}

// CountUnusedRecoveryCodes returns how many codes remain for a user.
func (r *TwoFactorRepository) CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&count)
	return count, database.MapPostgresError(err)
}

// ReplaceRecoveryCodes destroys every existing code and installs the new
// batch in one transaction; there is no state where both sets verify.
func (r *TwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}
		return insertRecoveryCodes(ctx, tx, userID, recoveryHashes)
	})
}

func insertRecoveryCodes(ctx context.Context, tx pgx.Tx, userID string, hashes []string) error {
	query := `
		INSERT INTO recovery_codes (user_id, code_hash, created_at)
		SELECT $1, unnest($2::text[]), NOW()
	`

	_, err := tx.Exec(ctx, query, userID, pq.Array(hashes))
	return database.MapPostgresError(err)
}

// ClearExpiredSMS drops pending SMS codes whose deadline passed. Verification
// already refuses them; this just keeps dead hashes out of the table.
func (r *TwoFactorRepository) ClearExpiredSMS(ctx context.Context) (int64, error) {
	query := `
		UPDATE twofactor_credentials SET
			pending_sms_code_hash = NULL, pending_sms_expires = NULL, updated_at = NOW()
		WHERE pending_sms_code_hash IS NOT NULL AND pending_sms_expires <= NOW()
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ExpirePendingSetups clears unconfirmed secrets older than the confirmation
// window.
func (r *TwoFactorRepository) ExpirePendingSetups(ctx context.Context, window time.Duration) (int64, error) {
	query := `
		UPDATE twofactor_credentials SET
			secret_encrypted = NULL, secret_nonce = NULL, state = $1, secret_issued_at = NULL, updated_at = NOW()
		WHERE state = $2 AND secret_issued_at <= NOW() - make_interval(secs => $3)
	`

	result, err := r.db.Pool.Exec(ctx, query, models.SetupNotConfigured, models.SetupSecretGenerated, window.Seconds())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
