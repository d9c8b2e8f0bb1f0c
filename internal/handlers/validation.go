package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/bastionauth/bastion/internal/models"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

// Global validator instance (reused across all handlers)
var validate = validator.New()

// ValidateRequest validates a request struct using go-playground/validator
// Returns a user-friendly error message if validation fails
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return fmt.Errorf("validation failed: %s: %s", ve[0].Field(), formatValidationError(ve[0]))
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// writeServiceError maps domain errors to HTTP responses. Verification
// failures stay deliberately vague.
func writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case models.ErrInvalidCode:
		pkghttp.WriteError(w, http.StatusUnauthorized, "verification_failed", "Verification failed")
	case models.ErrRateLimited:
		pkghttp.WriteTooManyRequests(w, "Too many attempts, please try again later")
	case models.ErrLockedDown:
		pkghttp.WriteLocked(w, "Account temporarily locked")
	case models.ErrAdminLocked:
		pkghttp.WriteLocked(w, "Account locked, contact an administrator")
	case models.ErrSetupNotPending:
		pkghttp.WriteConflict(w, "No setup in progress")
	case models.ErrSetupExpired:
		pkghttp.WriteError(w, http.StatusGone, "setup_expired", "Setup window expired, start again")
	case models.ErrTwoFactorRequired:
		pkghttp.WriteForbidden(w, "Two-factor authentication is required for this account")
	case models.ErrUnauthorized:
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case models.ErrNotFound:
		pkghttp.WriteNotFound(w, "Not found")
	case models.ErrConflict:
		pkghttp.WriteConflict(w, "Conflict")
	case models.ErrBadRequest:
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal error")
	}
}
