package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bastionauth/bastion/internal/config"
	"github.com/bastionauth/bastion/internal/models"
)

// AttemptCounterRepository defines the interface for attempt counter storage
type AttemptCounterRepository interface {
	Increment(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration, ceiling int) (*models.AttemptCounter, error)
	Peek(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration) (*models.AttemptCounter, error)
	Reset(ctx context.Context, subjectKey string, action models.ActionType) error
}

// limitPolicy is the per-action ceiling applied within a fixed window.
type limitPolicy struct {
	max    int
	window time.Duration
}

// RateLimitService enforces fixed-window limits per (subject, action) pair.
// All counter mutations go through a single atomic increment statement, so
// concurrent requests each observe a distinct count.
type RateLimitService struct {
	repo     AttemptCounterRepository
	config   config.SecurityConfig
	policies map[models.ActionType]limitPolicy
	logger   *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo AttemptCounterRepository, cfg config.SecurityConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: cfg,
		policies: map[models.ActionType]limitPolicy{
			models.ActionLogin:      {max: cfg.MaxFailedAttempts, window: cfg.LockoutWindow},
			models.ActionTOTP:       {max: cfg.MaxFailedAttempts, window: cfg.LockoutWindow},
			models.ActionRecovery:   {max: 3, window: time.Hour},
			models.ActionSMS:        {max: cfg.MaxFailedAttempts, window: cfg.LockoutWindow},
			models.ActionSMSRequest: {max: 3, window: time.Hour},
		},
		logger: logger,
	}
}

// CheckAndRecord increments the counter for the attempt and reports whether
// the attempt is allowed. The increment happens regardless of the answer, so
// hammering a limited endpoint keeps the window pinned; recording stops at
// the grace ceiling so the row reflects the overshoot without growing
// unbounded.
//
// Store errors fail open: availability of the surrounding login flow wins
// over limiter precision. Verification itself still fails closed elsewhere.
func (s *RateLimitService) CheckAndRecord(ctx context.Context, attempt models.AttemptContext) (*models.RateLimitResult, error) {
	policy, ok := s.policies[attempt.Action]
	if !ok {
		return nil, models.ErrBadRequest
	}

	counter, err := s.repo.Increment(ctx, attempt.SubjectKey(), attempt.Action, policy.window, policy.max+s.config.RateLimitGrace)
	if err != nil {
		s.logger.Error("attempt counter unavailable, failing open",
			slog.String("action", string(attempt.Action)),
			slog.Any("error", err))
		return &models.RateLimitResult{Allowed: true, Remaining: policy.max}, nil
	}

	return s.evaluate(counter, policy), nil
}

// Check reports the current standing without consuming an attempt.
func (s *RateLimitService) Check(ctx context.Context, attempt models.AttemptContext) (*models.RateLimitResult, error) {
	policy, ok := s.policies[attempt.Action]
	if !ok {
		return nil, models.ErrBadRequest
	}

	counter, err := s.repo.Peek(ctx, attempt.SubjectKey(), attempt.Action, policy.window)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.RateLimitResult{Allowed: true, Remaining: policy.max}, nil
		}
		s.logger.Error("attempt counter unavailable, failing open",
			slog.String("action", string(attempt.Action)),
			slog.Any("error", err))
		return &models.RateLimitResult{Allowed: true, Remaining: policy.max}, nil
	}

	// Peek did not consume an attempt, so evaluate as if the next one
	// would be the count+1-th.
	next := *counter
	next.Count++
	return s.evaluate(&next, policy), nil
}

// ClearOnSuccess resets the counter after a successful attempt so earlier
// failures stop counting against the subject.
func (s *RateLimitService) ClearOnSuccess(ctx context.Context, attempt models.AttemptContext) {
	if err := s.repo.Reset(ctx, attempt.SubjectKey(), attempt.Action); err != nil {
		s.logger.Error("failed to reset attempt counter",
			slog.String("action", string(attempt.Action)),
			slog.Any("error", err))
	}
}

func (s *RateLimitService) evaluate(counter *models.AttemptCounter, policy limitPolicy) *models.RateLimitResult {
	remaining := policy.max - counter.Count
	if remaining < 0 {
		remaining = 0
	}

	// The grace headroom past the threshold exists only in the stored
	// count, for audit visibility of the overshoot. It never buys extra
	// allowance.
	return &models.RateLimitResult{
		Allowed:   counter.Count <= policy.max,
		Remaining: remaining,
		ResetAt:   counter.WindowStart.Add(policy.window),
	}
}
