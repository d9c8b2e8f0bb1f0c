package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/config"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/repositories"
)

// TwoFactorRepository defines the interface for two-factor credential storage
type TwoFactorRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error)
	SavePendingSecret(ctx context.Context, userID string, encrypted, nonce []byte) error
	Enable(ctx context.Context, userID string, recoveryHashes []string) error
	Disable(ctx context.Context, userID string) error
	AdvanceAcceptedStep(ctx context.Context, userID string, step int64) error
	SetPendingSMS(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	TakePendingSMS(ctx context.Context, userID string) (string, *time.Time, error)
	SetVerifiedSession(ctx context.Context, userID, sessionID string) error
	ListUnusedRecoveryCodes(ctx context.Context, userID string) ([]repositories.RecoveryCodeRow, error)
	ConsumeRecoveryCode(ctx context.Context, codeID string) error
	CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error
}

// UserRepository defines the read-only account lookup this service needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// lowRecoveryCodeThreshold triggers a warning event once the supply drops
// this far.
const lowRecoveryCodeThreshold = 2

// TwoFactorService handles second-factor enrollment, verification, and
// management. Every verification path returns models.ErrInvalidCode for any
// failed check so callers cannot distinguish a wrong code from a missing
// credential.
//
// Unlike the rate limiter, verification fails toward denial: an
// infrastructure error during a check is an error, never a pass.
type TwoFactorService struct {
	repo      TwoFactorRepository
	userRepo  UserRepository
	totpMgr   *auth.TOTPManager
	markers   *auth.SessionMarkerManager
	rateLimit *RateLimitService
	lockdown  *LockdownService
	devices   *DeviceService
	sms       SMSSender
	events    EventSink
	audit     *AuditService
	config    config.SecurityConfig
	logger    *slog.Logger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(
	repo TwoFactorRepository,
	userRepo UserRepository,
	totpMgr *auth.TOTPManager,
	markers *auth.SessionMarkerManager,
	rateLimit *RateLimitService,
	lockdown *LockdownService,
	devices *DeviceService,
	sms SMSSender,
	events EventSink,
	audit *AuditService,
	cfg config.SecurityConfig,
	logger *slog.Logger,
) *TwoFactorService {
	return &TwoFactorService{
		repo:      repo,
		userRepo:  userRepo,
		totpMgr:   totpMgr,
		markers:   markers,
		rateLimit: rateLimit,
		lockdown:  lockdown,
		devices:   devices,
		sms:       sms,
		events:    events,
		audit:     audit,
		config:    cfg,
		logger:    logger,
	}
}

// InitiateSetup generates a fresh secret for enrollment and returns the
// provisioning challenge. Re-running setup before confirmation replaces the
// pending secret; an enabled credential is never touched.
func (s *TwoFactorService) InitiateSetup(ctx context.Context, userID string, signals models.DeviceSignals) (*models.SetupChallenge, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	encrypted, nonce, secret, qrDataURL, err := s.totpMgr.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.repo.SavePendingSecret(ctx, userID, encrypted, nonce); err != nil {
		return nil, err
	}

	s.logger.Info("two-factor setup initiated", slog.String("user_id", userID))
	s.audit.LogStateChange(ctx, models.AuditActionSetupInitiated, &userID, models.AuditSubjectUser, &userID,
		nil, models.AuditValues{"state": string(models.SetupSecretGenerated)},
		signals.IPAddress, signals.UserAgent, models.SeverityLow)

	return &models.SetupChallenge{
		Secret:    secret,
		QRCode:    qrDataURL,
		ExpiresAt: time.Now().Add(s.config.SetupConfirmWindow),
	}, nil
}

// ConfirmSetup proves possession of the enrolled authenticator and enables
// the credential. Returns the plaintext recovery codes, shown exactly once.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, userID, code string, signals models.DeviceSignals) ([]string, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSetupNotPending
		}
		return nil, err
	}
	if cred.State != models.SetupSecretGenerated {
		return nil, models.ErrSetupNotPending
	}
	if cred.SecretIssuedAt == nil || time.Since(*cred.SecretIssuedAt) > s.config.SetupConfirmWindow {
		return nil, models.ErrSetupExpired
	}

	step, err := s.checkTOTP(ctx, cred, code)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := s.mintRecoveryCodes()
	if err != nil {
		return nil, err
	}

	if err := s.repo.Enable(ctx, userID, hashes); err != nil {
		return nil, err
	}
	if err := s.repo.AdvanceAcceptedStep(ctx, userID, step); err != nil && !errors.Is(err, models.ErrConcurrencyConflict) {
		s.logger.Error("failed to record accepted step", slog.Any("error", err))
	}

	s.logger.Info("two-factor enabled", slog.String("user_id", userID))
	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventTwoFactorEnabled,
		SubjectUserID: userID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		OccurredAt:    time.Now(),
	})
	s.audit.LogStateChange(ctx, models.AuditActionSetupConfirmed, &userID, models.AuditSubjectUser, &userID,
		models.AuditValues{"state": string(models.SetupSecretGenerated)},
		models.AuditValues{"state": string(models.SetupEnabled)},
		signals.IPAddress, signals.UserAgent, models.SeverityLow)

	return codes, nil
}

// Verify checks a second-factor code and, on success, returns a session
// marker bound to the verified session. Failures feed the lockdown engine;
// the error is uniform for every rejection reason.
func (s *TwoFactorService) Verify(ctx context.Context, req models.VerificationRequest, signals models.DeviceSignals) (string, error) {
	if !req.Method.Valid() {
		return "", models.ErrBadRequest
	}

	attempt := models.AttemptContext{
		SubjectID: req.UserID,
		IPAddress: signals.IPAddress,
		UserAgent: signals.UserAgent,
		Action:    req.Method.Action(),
	}

	if err := s.lockdown.Check(ctx, attempt); err != nil {
		return "", err
	}

	limit, err := s.rateLimit.CheckAndRecord(ctx, attempt)
	if err != nil {
		return "", err
	}
	if !limit.Allowed {
		return "", models.ErrRateLimited
	}

	cred, err := s.repo.GetByUserID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", s.reject(ctx, attempt)
		}
		return "", err
	}
	if !cred.Enabled {
		return "", s.reject(ctx, attempt)
	}

	switch req.Method {
	case models.MethodTOTP:
		if _, err := s.checkAndAdvanceTOTP(ctx, cred, req.Code); err != nil {
			return "", s.rejectWith(ctx, attempt, err)
		}
	case models.MethodRecovery:
		if err := s.checkRecoveryCode(ctx, req.UserID, req.Code, signals); err != nil {
			return "", s.rejectWith(ctx, attempt, err)
		}
	case models.MethodSMS:
		if err := s.checkSMSCode(ctx, req.UserID, req.Code); err != nil {
			return "", s.rejectWith(ctx, attempt, err)
		}
	}

	return s.finishVerification(ctx, req, attempt, signals)
}

// finishVerification runs the success path: clear counters, record the
// session and device, issue the marker.
func (s *TwoFactorService) finishVerification(ctx context.Context, req models.VerificationRequest, attempt models.AttemptContext, signals models.DeviceSignals) (string, error) {
	if err := s.lockdown.RecordSuccess(ctx, attempt); err != nil {
		s.logger.Error("failed to clear lockdown state", slog.Any("error", err))
	}
	s.rateLimit.ClearOnSuccess(ctx, attempt)

	if err := s.repo.SetVerifiedSession(ctx, req.UserID, req.SessionID); err != nil {
		s.logger.Error("failed to record verified session", slog.Any("error", err))
	}

	if _, _, err := s.devices.Identify(ctx, req.UserID, signals); err != nil {
		s.logger.Error("failed to record device", slog.Any("error", err))
	}
	if req.RememberDevice {
		if err := s.devices.TrustWithSignals(ctx, req.UserID, signals); err != nil {
			s.logger.Error("failed to trust device", slog.Any("error", err))
		}
	}

	marker, err := s.markers.Issue(req.UserID, req.SessionID)
	if err != nil {
		s.logger.Error("failed to issue session marker", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventVerificationOK,
		SubjectUserID: req.UserID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		Metadata:      map[string]string{"method": string(req.Method)},
		OccurredAt:    time.Now(),
	})
	s.audit.LogStateChange(ctx, models.AuditActionVerify, &req.UserID, models.AuditSubjectUser, &req.UserID,
		nil, models.AuditValues{"method": string(req.Method)},
		signals.IPAddress, signals.UserAgent, models.SeverityLow)

	return marker, nil
}

// reject records the failure and returns the uniform verification error.
func (s *TwoFactorService) reject(ctx context.Context, attempt models.AttemptContext) error {
	return s.rejectWith(ctx, attempt, models.ErrInvalidCode)
}

// rejectWith maps any verification failure to the uniform error after
// feeding the lockdown engine. Infrastructure errors pass through untouched;
// they deny without counting against the user.
func (s *TwoFactorService) rejectWith(ctx context.Context, attempt models.AttemptContext, cause error) error {
	if !isVerificationFailure(cause) {
		return cause
	}

	if _, err := s.lockdown.RecordFailure(ctx, attempt); err != nil {
		s.logger.Error("failed to record verification failure", slog.Any("error", err))
	}
	return models.ErrInvalidCode
}

func isVerificationFailure(err error) bool {
	return errors.Is(err, models.ErrInvalidCode) ||
		errors.Is(err, models.ErrCodeAlreadyUsed) ||
		errors.Is(err, models.ErrConcurrencyConflict) ||
		errors.Is(err, models.ErrNotFound)
}

// checkTOTP validates a code against the credential without consuming the
// time step.
func (s *TwoFactorService) checkTOTP(ctx context.Context, cred *models.TwoFactorCredential, code string) (int64, error) {
	if len(cred.SecretEncrypted) == 0 {
		return 0, models.ErrInvalidCode
	}

	secret, err := s.totpMgr.DecryptSecret(cred.SecretEncrypted, cred.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	step, ok, err := s.totpMgr.ValidateTOTP(string(secret), code, time.Now())
	if err != nil {
		return 0, models.ErrInternalServer
	}
	if !ok {
		return 0, models.ErrInvalidCode
	}
	return step, nil
}

// checkAndAdvanceTOTP validates a code and consumes its time step. A code
// for a step at or below the last accepted one is a replay and fails even
// though the digits match.
func (s *TwoFactorService) checkAndAdvanceTOTP(ctx context.Context, cred *models.TwoFactorCredential, code string) (int64, error) {
	step, err := s.checkTOTP(ctx, cred, code)
	if err != nil {
		return 0, err
	}
	if step <= cred.LastAcceptedStep {
		return 0, models.ErrInvalidCode
	}

	// The monotonic guard in the store decides races between concurrent
	// presentations of the same code.
	if err := s.repo.AdvanceAcceptedStep(ctx, cred.UserID, step); err != nil {
		return 0, err
	}
	return step, nil
}

// checkRecoveryCode matches the code against the unused set and consumes the
// winner. Exactly one concurrent presentation of the same code succeeds.
// Codes are minted uppercase; matching is case-insensitive, so the input is
// normalized here rather than at each transport.
func (s *TwoFactorService) checkRecoveryCode(ctx context.Context, userID, code string, signals models.DeviceSignals) error {
	code = strings.ToUpper(strings.TrimSpace(code))

	rows, err := s.repo.ListUnusedRecoveryCodes(ctx, userID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if bcrypt.CompareHashAndPassword([]byte(row.CodeHash), []byte(code)) != nil {
			continue
		}
		if err := s.repo.ConsumeRecoveryCode(ctx, row.ID); err != nil {
			return err
		}

		remaining, err := s.repo.CountUnusedRecoveryCodes(ctx, userID)
		if err == nil && remaining <= lowRecoveryCodeThreshold {
			s.events.Emit(ctx, models.RawEvent{
				Type:          models.EventRecoveryCodesLow,
				SubjectUserID: userID,
				IPAddress:     signals.IPAddress,
				Metadata:      map[string]string{"remaining": strconv.Itoa(remaining)},
				OccurredAt:    time.Now(),
			})
		}
		return nil
	}

	return models.ErrInvalidCode
}

// checkSMSCode takes the pending challenge and compares. The challenge is
// cleared whatever the outcome; a wrong guess burns the code.
func (s *TwoFactorService) checkSMSCode(ctx context.Context, userID, code string) error {
	hash, expires, err := s.repo.TakePendingSMS(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidCode
		}
		return err
	}
	if expires == nil || time.Now().After(*expires) {
		return models.ErrInvalidCode
	}

	if subtle.ConstantTimeCompare([]byte(hash), []byte(auth.HashCode(code))) != 1 {
		return models.ErrInvalidCode
	}
	return nil
}

// RequestSMSCode generates and sends a fresh single-shot code to the user's
// phone. Requesting again replaces any outstanding code.
func (s *TwoFactorService) RequestSMSCode(ctx context.Context, userID string, signals models.DeviceSignals) error {
	attempt := models.AttemptContext{
		SubjectID: userID,
		IPAddress: signals.IPAddress,
		UserAgent: signals.UserAgent,
		Action:    models.ActionSMSRequest,
	}

	if err := s.lockdown.Check(ctx, attempt); err != nil {
		return err
	}
	limit, err := s.rateLimit.CheckAndRecord(ctx, attempt)
	if err != nil {
		return err
	}
	if !limit.Allowed {
		return models.ErrRateLimited
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Phone == "" {
		return models.ErrBadRequest
	}

	code, err := auth.GenerateSMSCode()
	if err != nil {
		s.logger.Error("failed to generate SMS code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := time.Now().Add(s.config.SMSCodeExpiry)
	if err := s.repo.SetPendingSMS(ctx, userID, auth.HashCode(code), expiresAt); err != nil {
		return err
	}

	if err := s.sms.SendCode(ctx, user.Phone, code); err != nil {
		s.logger.Error("failed to deliver SMS code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("sms code issued", slog.String("user_id", userID))
	return nil
}

// Disable turns off two-factor for the user's own account. Requires the
// current password, and is refused outright for roles that mandate 2FA.
func (s *TwoFactorService) Disable(ctx context.Context, userID, password string, signals models.DeviceSignals) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.ErrUnauthorized
	}
	if user.TwoFactorRequired() {
		return models.ErrTwoFactorRequired
	}

	if err := s.repo.Disable(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("two-factor disabled", slog.String("user_id", userID))
	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventTwoFactorDisabled,
		SubjectUserID: userID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		OccurredAt:    time.Now(),
	})
	s.audit.LogStateChange(ctx, models.AuditActionDisable, &userID, models.AuditSubjectUser, &userID,
		models.AuditValues{"enabled": true}, models.AuditValues{"enabled": false},
		signals.IPAddress, signals.UserAgent, models.SeverityHigh)

	return nil
}

// AdminDisable turns off two-factor for another account. The role override
// does not apply; an administrator resetting a locked-out user is the point.
func (s *TwoFactorService) AdminDisable(ctx context.Context, targetUserID, actorID string, signals models.DeviceSignals) error {
	if err := s.repo.Disable(ctx, targetUserID); err != nil {
		return err
	}

	s.logger.Warn("two-factor disabled by administrator",
		slog.String("user_id", targetUserID),
		slog.String("actor_id", actorID))

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventAdminDisable2FA,
		SubjectUserID: targetUserID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		Metadata:      map[string]string{"actor_id": actorID},
		OccurredAt:    time.Now(),
	})
	s.audit.LogStateChange(ctx, models.AuditActionDisable, &actorID, models.AuditSubjectUser, &targetUserID,
		models.AuditValues{"enabled": true}, models.AuditValues{"enabled": false},
		signals.IPAddress, signals.UserAgent, models.SeverityHigh)

	return nil
}

// RegenerateRecoveryCodes replaces the full set after password
// re-authentication. Old codes stop verifying the moment the new set lands.
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, password string, signals models.DeviceSignals) ([]string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, models.ErrUnauthorized
	}

	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.Enabled {
		return nil, models.ErrSetupNotPending
	}

	codes, hashes, err := s.mintRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	s.logger.Info("recovery codes regenerated", slog.String("user_id", userID))
	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventRecoveryCodesRegenerated,
		SubjectUserID: userID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		OccurredAt:    time.Now(),
	})
	s.audit.LogStateChange(ctx, models.AuditActionRecoveryRegenerate, &userID, models.AuditSubjectUser, &userID,
		nil, models.AuditValues{"count": len(codes)},
		signals.IPAddress, signals.UserAgent, models.SeverityLow)

	return codes, nil
}

// mintRecoveryCodes generates a batch and its bcrypt hashes.
func (s *TwoFactorService) mintRecoveryCodes() ([]string, []string, error) {
	codes, err := auth.GenerateRecoveryCodes(s.config.RecoveryCodeCount, s.config.RecoveryCodeLength)
	if err != nil {
		s.logger.Error("failed to generate recovery codes", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), 12)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		hashes[i] = string(hash)
	}
	return codes, hashes, nil
}

// EnrollmentStatus summarizes the user's enrollment for display.
type EnrollmentStatus struct {
	State               models.SetupState `json:"state"`
	Enabled             bool              `json:"enabled"`
	UnusedRecoveryCodes int               `json:"unused_recovery_codes"`
	Required            bool              `json:"required"`
}

// Status reports the user's current second-factor standing.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*EnrollmentStatus, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &EnrollmentStatus{State: models.SetupNotConfigured, Required: user.TwoFactorRequired()}

	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return status, nil
		}
		return nil, err
	}

	status.State = cred.State
	status.Enabled = cred.Enabled
	if cred.Enabled {
		count, err := s.repo.CountUnusedRecoveryCodes(ctx, userID)
		if err != nil {
			return nil, err
		}
		status.UnusedRecoveryCodes = count
	}
	return status, nil
}

// EnforceRequirement reports whether the user may proceed without 2FA. Users
// whose role mandates it and who have not enrolled get ErrTwoFactorRequired
// and a medium-severity event.
func (s *TwoFactorService) EnforceRequirement(ctx context.Context, userID string, signals models.DeviceSignals) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorRequired() {
		return nil
	}

	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if cred != nil && cred.Enabled {
		return nil
	}

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventTwoFactorRequired,
		SubjectUserID: userID,
		IPAddress:     signals.IPAddress,
		UserAgent:     signals.UserAgent,
		Metadata:      map[string]string{"role": user.Role},
		OccurredAt:    time.Now(),
	})
	return models.ErrTwoFactorRequired
}

// VerifySessionMarker reports whether a previously issued marker is still
// valid for the session.
func (s *TwoFactorService) VerifySessionMarker(marker, userID, sessionID string) bool {
	return s.markers.Verify(marker, userID, sessionID)
}

// GateDecision tells the caller whether a second factor stands between the
// session and the requested resource.
type GateDecision struct {
	Required    bool `json:"required"`
	TrustedSkip bool `json:"trusted_skip"`
	Satisfied   bool `json:"satisfied"`
}

// Gate evaluates a session against the second-factor requirement in one
// round trip: whether 2FA applies at all, whether the device's standing
// trust covers it, and whether an existing session marker already satisfies
// it. A trust lookup failure downgrades to no-skip rather than blocking the
// request.
func (s *TwoFactorService) Gate(ctx context.Context, userID, sessionID, marker string, signals models.DeviceSignals) (*GateDecision, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	enabled := cred != nil && cred.Enabled

	decision := &GateDecision{Required: enabled}
	if !enabled {
		if err := s.EnforceRequirement(ctx, userID, signals); err != nil {
			if !errors.Is(err, models.ErrTwoFactorRequired) {
				return nil, err
			}
			decision.Required = true
		}
		return decision, nil
	}

	if marker != "" && s.markers.Verify(marker, userID, sessionID) {
		decision.Satisfied = true
		return decision, nil
	}

	trusted, err := s.devices.IsTrusted(ctx, userID, signals)
	if err != nil {
		s.logger.Error("trusted device lookup failed", "error", err)
	}
	decision.TrustedSkip = trusted
	return decision, nil
}
