package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Verification outcomes. ErrInvalidCode is the uniform answer for any
	// failed verification so callers cannot distinguish a wrong code from a
	// missing credential.
	ErrInvalidCode      = errors.New("invalid code")
	ErrCodeAlreadyUsed  = errors.New("code already consumed")
	ErrSetupNotPending  = errors.New("no two-factor setup in progress")
	ErrSetupExpired     = errors.New("two-factor setup window expired")
	ErrTwoFactorRequired = errors.New("two-factor authentication required by role")

	// Gating errors, surfaced distinctly so callers can show different messaging
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrLockedDown  = errors.New("account temporarily locked")
	ErrAdminLocked = errors.New("account locked pending administrator review")

	// Infrastructure
	ErrStoreUnavailable    = errors.New("attempt store unavailable")
	ErrConcurrencyConflict = errors.New("conflicting concurrent update")
)
