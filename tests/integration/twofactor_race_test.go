package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/repositories"
)

// seedEnabledCredential walks a user through enrollment at the repository
// level and returns the user ID.
func seedEnabledCredential(t *testing.T, db *TestDB, repo *repositories.TwoFactorRepository, hashes []string) string {
	t.Helper()
	ctx := context.Background()

	user, err := SeedUser(ctx, db.Pool, "race@example.com", "TestPassword123!", "employee", "")
	require.NoError(t, err)

	require.NoError(t, repo.SavePendingSecret(ctx, user.ID, []byte("ciphertext"), []byte("nonce")))
	require.NoError(t, repo.Enable(ctx, user.ID, hashes))
	return user.ID
}

func TestRecoveryCodeConsume_ExactlyOneWinner(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("ABCD2345"), bcrypt.MinCost)
	require.NoError(t, err)
	userID := seedEnabledCredential(t, db, repo, []string{string(hash)})

	rows, err := repo.ListUnusedRecoveryCodes(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	codeID := rows[0].ID

	const workers = 10
	results := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.ConsumeRecoveryCode(ctx, codeID)
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrCodeAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent consumption must succeed")

	remaining, err := repo.CountUnusedRecoveryCodes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestAdvanceAcceptedStep_ExactlyOneWinnerPerStep(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	userID := seedEnabledCredential(t, db, repo, []string{"unused-hash"})

	const workers = 10
	const step = int64(55_000_000)
	results := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.AdvanceAcceptedStep(ctx, userID, step)
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
		}
	}
	assert.Equal(t, 1, winners, "a TOTP step must be redeemable exactly once")

	// A later step still advances; an earlier one never does.
	assert.NoError(t, repo.AdvanceAcceptedStep(ctx, userID, step+1))
	assert.ErrorIs(t, repo.AdvanceAcceptedStep(ctx, userID, step), models.ErrConcurrencyConflict)
}

func TestTakePendingSMS_SingleShot(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	userID := seedEnabledCredential(t, db, repo, []string{"unused-hash"})

	codeHash := auth.HashCode("123456")
	expiresAt := time.Now().Add(5 * time.Minute)
	require.NoError(t, repo.SetPendingSMS(ctx, userID, codeHash, expiresAt))

	hash, expires, err := repo.TakePendingSMS(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, codeHash, hash)
	require.NotNil(t, expires)
	assert.WithinDuration(t, expiresAt, *expires, 2*time.Second)

	// The challenge is burned whatever the caller does with it.
	_, _, err = repo.TakePendingSMS(ctx, userID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReplaceRecoveryCodes_OldSetStopsVerifying(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	userID := seedEnabledCredential(t, db, repo, []string{"old-hash-1", "old-hash-2"})

	require.NoError(t, repo.ReplaceRecoveryCodes(ctx, userID, []string{"new-hash-1"}))

	rows, err := repo.ListUnusedRecoveryCodes(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new-hash-1", rows[0].CodeHash)
}

func TestSavePendingSecret_RefusesEnabledCredential(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	userID := seedEnabledCredential(t, db, repo, []string{"hash"})

	err := repo.SavePendingSecret(ctx, userID, []byte("new-ciphertext"), []byte("new-nonce"))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestExpirePendingSetups(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	user, err := SeedUser(ctx, db.Pool, "pending@example.com", "TestPassword123!", "employee", "")
	require.NoError(t, err)
	require.NoError(t, repo.SavePendingSecret(ctx, user.ID, []byte("ciphertext"), []byte("nonce")))

	_, err = db.Pool.Exec(ctx, `
		UPDATE twofactor_credentials SET secret_issued_at = NOW() - INTERVAL '11 minutes'
		WHERE user_id = $1
	`, user.ID)
	require.NoError(t, err)

	expired, err := repo.ExpirePendingSetups(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	cred, err := repo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SetupNotConfigured, cred.State)
	assert.Empty(t, cred.SecretEncrypted)
}

func TestClearExpiredSMS(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTwoFactorRepository(db.DB)
	ctx := context.Background()

	userID := seedEnabledCredential(t, db, repo, []string{"hash"})
	require.NoError(t, repo.SetPendingSMS(ctx, userID, auth.HashCode("123456"), time.Now().Add(5*time.Minute)))

	// Fresh challenge survives the sweep.
	cleared, err := repo.ClearExpiredSMS(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cleared)

	_, err = db.Pool.Exec(ctx, `
		UPDATE twofactor_credentials SET pending_sms_expires = NOW() - INTERVAL '1 minute'
		WHERE user_id = $1
	`, userID)
	require.NoError(t, err)

	cleared, err = repo.ClearExpiredSMS(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	_, _, err = repo.TakePendingSMS(ctx, userID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceUpsert_NewDeviceDetection(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewDeviceRepository(db.DB)
	ctx := context.Background()

	user, err := SeedUser(ctx, db.Pool, "device@example.com", "TestPassword123!", "employee", "")
	require.NoError(t, err)

	record := &models.DeviceRecord{
		UserID:      user.ID,
		Fingerprint: "fp-1",
		DisplayName: "Chrome on Windows",
		BrowserName: "Chrome",
		OSName:      "Windows",
		LastIP:      "203.0.113.10",
	}

	first, isNew, err := repo.Upsert(ctx, record)
	require.NoError(t, err)
	assert.True(t, isNew)

	second, isNew, err := repo.Upsert(ctx, record)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))
}
