package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bastionauth/bastion/internal/config"
	"github.com/bastionauth/bastion/internal/models"
)

// LockdownRepository defines the interface for lockdown state storage
type LockdownRepository interface {
	Get(ctx context.Context, identity string) (*models.LockdownRecord, error)
	IncrementFailures(ctx context.Context, identity string) (*models.LockdownRecord, error)
	ApplyTempLock(ctx context.Context, identity string, until time.Time, cycles int, firstCycleAt time.Time, reason models.LockReason) (*models.LockdownRecord, error)
	ApplyAdminLock(ctx context.Context, identity string, reason models.LockReason) (*models.LockdownRecord, error)
	ClearOnSuccess(ctx context.Context, identity string) error
	AdminUnlock(ctx context.Context, identity string) error
}

// EventSink accepts raw security events for classification and dispatch.
type EventSink interface {
	Emit(ctx context.Context, ev models.RawEvent)
}

// LockdownService escalates repeated failures into timed locks, doubles the
// lock duration on each cycle inside the escalation window, and converts
// persistent offenders into admin-only locks.
type LockdownService struct {
	repo     LockdownRepository
	counters AttemptCounterRepository
	events   EventSink
	config   config.SecurityConfig
	logger   *slog.Logger
}

// NewLockdownService creates a new LockdownService
func NewLockdownService(repo LockdownRepository, counters AttemptCounterRepository, events EventSink, cfg config.SecurityConfig, logger *slog.Logger) *LockdownService {
	return &LockdownService{
		repo:     repo,
		counters: counters,
		events:   events,
		config:   cfg,
		logger:   logger,
	}
}

// Check reports whether the identity is currently blocked. Returns
// ErrAdminLocked for locks that only an administrator can clear,
// ErrLockedDown for timed locks still in effect, nil otherwise.
func (s *LockdownService) Check(ctx context.Context, attempt models.AttemptContext) error {
	record, err := s.repo.Get(ctx, attempt.SubjectKey())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load lockdown state: %w", err)
	}

	if !record.LockedNow(time.Now()) {
		return nil
	}
	if record.RequiresAdminIntervention {
		return models.ErrAdminLocked
	}
	return models.ErrLockedDown
}

// RecordFailure counts one failed attempt against the identity and applies
// whatever escalation the new count calls for. The increment is a single
// atomic statement, so exactly one of N concurrent failures observes each
// count and the lock transition fires exactly once.
func (s *LockdownService) RecordFailure(ctx context.Context, attempt models.AttemptContext) (*models.LockdownRecord, error) {
	identity := attempt.SubjectKey()

	record, err := s.repo.IncrementFailures(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}

	s.emitFailure(ctx, attempt)
	s.trackGlobalPattern(ctx, attempt)

	if record.RequiresAdminIntervention {
		return record, nil
	}
	if record.ConsecutiveFailures < s.config.MaxFailedAttempts {
		return record, nil
	}

	return s.escalate(ctx, attempt, record)
}

// escalate moves the identity into the next lock state once the failure
// ceiling is hit.
func (s *LockdownService) escalate(ctx context.Context, attempt models.AttemptContext, record *models.LockdownRecord) (*models.LockdownRecord, error) {
	now := time.Now()
	identity := attempt.SubjectKey()

	cycles := record.LockoutCycles + 1
	firstCycleAt := now
	if record.FirstCycleAt != nil && now.Sub(*record.FirstCycleAt) < s.config.EscalationWindow {
		firstCycleAt = *record.FirstCycleAt
	} else {
		cycles = 1
	}

	// Temp locks are tolerated up to the threshold; the cycle after that
	// stops the countdown ladder and demands an administrator.
	if cycles > s.config.EscalationThreshold {
		locked, err := s.repo.ApplyAdminLock(ctx, identity, models.LockReasonRepeatedLocks)
		if err != nil {
			return nil, fmt.Errorf("failed to apply admin lock: %w", err)
		}

		s.logger.Warn("identity escalated to admin lock",
			slog.String("identity", identity),
			slog.Int("lockout_cycles", cycles))

		s.events.Emit(ctx, models.RawEvent{
			Type:          models.EventAdminLockTriggered,
			SubjectUserID: attempt.SubjectID,
			IPAddress:     attempt.IPAddress,
			UserAgent:     attempt.UserAgent,
			Metadata:      map[string]string{"lockout_cycles": strconv.Itoa(cycles)},
			OccurredAt:    now,
		})
		return locked, nil
	}

	duration := s.lockDuration(cycles)
	locked, err := s.repo.ApplyTempLock(ctx, identity, now.Add(duration), cycles, firstCycleAt, models.LockReasonFailedAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to apply lockout: %w", err)
	}

	s.logger.Warn("identity locked out",
		slog.String("identity", identity),
		slog.Int("lockout_cycles", cycles),
		slog.Duration("duration", duration))

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventAccountLocked,
		SubjectUserID: attempt.SubjectID,
		IPAddress:     attempt.IPAddress,
		UserAgent:     attempt.UserAgent,
		Metadata: map[string]string{
			"lockout_cycles":   strconv.Itoa(cycles),
			"lockout_duration": duration.String(),
		},
		OccurredAt: now,
	})
	return locked, nil
}

// lockDuration doubles the base duration per cycle, capped at the configured
// maximum.
func (s *LockdownService) lockDuration(cycles int) time.Duration {
	duration := s.config.LockoutDuration
	for i := 1; i < cycles; i++ {
		duration *= 2
		if duration >= s.config.MaxLockoutDuration {
			return s.config.MaxLockoutDuration
		}
	}
	if duration > s.config.MaxLockoutDuration {
		return s.config.MaxLockoutDuration
	}
	return duration
}

// RecordSuccess clears the failure streak after a successful attempt. Admin
// locks survive; only an explicit unlock clears those.
func (s *LockdownService) RecordSuccess(ctx context.Context, attempt models.AttemptContext) error {
	if err := s.repo.ClearOnSuccess(ctx, attempt.SubjectKey()); err != nil {
		return fmt.Errorf("failed to clear lockdown state: %w", err)
	}
	return nil
}

// Status returns the current lockdown record for an identity, or ErrNotFound
// when no state exists.
func (s *LockdownService) Status(ctx context.Context, identity string) (*models.LockdownRecord, error) {
	return s.repo.Get(ctx, identity)
}

// AdminUnlock clears any lock, including admin-intervention locks, and emits
// the corresponding security event.
func (s *LockdownService) AdminUnlock(ctx context.Context, identity, actorID, ipAddress string) error {
	if err := s.repo.AdminUnlock(ctx, identity); err != nil {
		return err
	}

	s.logger.Info("identity unlocked by administrator",
		slog.String("identity", identity),
		slog.String("actor_id", actorID))

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventAdminUnlock,
		SubjectUserID: identity,
		IPAddress:     ipAddress,
		Metadata:      map[string]string{"actor_id": actorID},
		OccurredAt:    time.Now(),
	})
	return nil
}

// trackGlobalPattern counts failed attempts per source IP across all
// identities. Crossing the threshold signals a distributed attack rather than
// one user mistyping a code.
func (s *LockdownService) trackGlobalPattern(ctx context.Context, attempt models.AttemptContext) {
	counter, err := s.counters.Increment(ctx, "global_"+attempt.IPAddress, attempt.Action, s.config.GlobalAttackWindow,
		s.config.GlobalAttackThreshold+s.config.RateLimitGrace)
	if err != nil {
		s.logger.Error("failed to track global attempt pattern", slog.Any("error", err))
		return
	}

	// Emit on the exact crossing only, so one attack produces one event.
	if counter.Count == s.config.GlobalAttackThreshold {
		s.logger.Error("global attack pattern detected",
			slog.String("ip_address", attempt.IPAddress),
			slog.Int("failed_attempts", counter.Count))

		s.events.Emit(ctx, models.RawEvent{
			Type:      models.EventGlobalAttack,
			IPAddress: attempt.IPAddress,
			UserAgent: attempt.UserAgent,
			Metadata: map[string]string{
				"failed_attempts": strconv.Itoa(counter.Count),
				"window":          s.config.GlobalAttackWindow.String(),
			},
			OccurredAt: time.Now(),
		})
	}
}

func (s *LockdownService) emitFailure(ctx context.Context, attempt models.AttemptContext) {
	eventType := models.EventVerificationFailed
	if attempt.Action == models.ActionLogin {
		eventType = models.EventLoginFailed
	}

	s.events.Emit(ctx, models.RawEvent{
		Type:          eventType,
		SubjectUserID: attempt.SubjectID,
		IPAddress:     attempt.IPAddress,
		UserAgent:     attempt.UserAgent,
		Metadata:      map[string]string{"action": string(attempt.Action)},
		OccurredAt:    time.Now(),
	})
}
