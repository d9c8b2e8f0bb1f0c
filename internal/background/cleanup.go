package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/bastionauth/bastion/internal/config"
	"github.com/bastionauth/bastion/internal/repositories"
)

// keep stale records around for a few windows for forensics before purging
const (
	counterRetentionFactor  = 4
	staleLockdownAge        = 30 * 24 * time.Hour
	staleUntrustedDeviceAge = 90 * 24 * time.Hour
)

// CleanupManager periodically purges expired counters, abandoned setups, and
// aged-out records.
type CleanupManager struct {
	counterRepo   *repositories.AttemptCounterRepository
	lockdownRepo  *repositories.LockdownRepository
	twofactorRepo *repositories.TwoFactorRepository
	deviceRepo    *repositories.DeviceRepository
	auditRepo     *repositories.AuditLogRepository
	config        config.SecurityConfig
	logger        *slog.Logger
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	counterRepo *repositories.AttemptCounterRepository,
	lockdownRepo *repositories.LockdownRepository,
	twofactorRepo *repositories.TwoFactorRepository,
	deviceRepo *repositories.DeviceRepository,
	auditRepo *repositories.AuditLogRepository,
	cfg config.SecurityConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		counterRepo:   counterRepo,
		lockdownRepo:  lockdownRepo,
		twofactorRepo: twofactorRepo,
		deviceRepo:    deviceRepo,
		auditRepo:     auditRepo,
		config:        cfg,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.CleanupInterval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each store once
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	counterAge := cm.config.LockoutWindow * counterRetentionFactor
	if globalAge := cm.config.GlobalAttackWindow * counterRetentionFactor; globalAge > counterAge {
		counterAge = globalAge
	}

	if n, err := cm.counterRepo.DeleteExpired(cleanupCtx, counterAge); err != nil {
		cm.logger.Error("failed to purge expired counters", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("purged expired attempt counters", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.twofactorRepo.ExpirePendingSetups(cleanupCtx, cm.config.SetupConfirmWindow); err != nil {
		cm.logger.Error("failed to expire pending setups", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("expired abandoned setups", slog.Int64("rows_updated", n))
	}

	if n, err := cm.twofactorRepo.ClearExpiredSMS(cleanupCtx); err != nil {
		cm.logger.Error("failed to clear expired SMS codes", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("cleared expired SMS codes", slog.Int64("rows_updated", n))
	}

	if n, err := cm.lockdownRepo.DeleteStale(cleanupCtx, staleLockdownAge); err != nil {
		cm.logger.Error("failed to purge stale lockdown records", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("purged stale lockdown records", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.deviceRepo.DeleteStaleUntrusted(cleanupCtx, staleUntrustedDeviceAge); err != nil {
		cm.logger.Error("failed to purge stale devices", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("purged stale untrusted devices", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.auditRepo.Cleanup(cleanupCtx, cm.config.AuditRetentionDays); err != nil {
		cm.logger.Error("failed to purge old audit entries", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("purged audit entries past retention", slog.Int64("rows_deleted", n))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
