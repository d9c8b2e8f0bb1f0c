package handlers

import "time"

// Setup DTOs

// SetupResponse contains the provisioning challenge for enrollment
type SetupResponse struct {
	Secret    string    `json:"secret"`     // Base32 secret for manual entry
	QRCode    string    `json:"qr_code"`    // Data URL, PNG
	ExpiresAt time.Time `json:"expires_at"` // Confirmation deadline
}

// ConfirmSetupRequest confirms enrollment with the first code
type ConfirmSetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ConfirmSetupResponse returns the one-time view of the recovery codes
type ConfirmSetupResponse struct {
	Enabled       bool     `json:"enabled"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Verification DTOs

// VerifyRequest submits a second-factor code
type VerifyRequest struct {
	Code           string `json:"code" validate:"required,min=6,max=20"`
	Method         string `json:"method" validate:"required,oneof=totp recovery sms"`
	RememberDevice bool   `json:"remember_device"`
}

// VerifyResponse returns the session marker on success
type VerifyResponse struct {
	Verified      bool   `json:"verified"`
	SessionMarker string `json:"session_marker"`
}

// GateRequest asks whether the session must present a second factor. The
// marker is optional; a session that never verified simply omits it.
type GateRequest struct {
	SessionMarker string `json:"session_marker"`
}

// GateResponse is the gate verdict for the session
type GateResponse struct {
	Required    bool `json:"required"`
	TrustedSkip bool `json:"trusted_skip"`
	Satisfied   bool `json:"satisfied"`
}

// Disable DTOs

// DisableRequest requests self-service disablement (password required)
type DisableRequest struct {
	Password string `json:"password" validate:"required"`
}

// RegenerateRecoveryCodesRequest re-authenticates before regeneration
type RegenerateRecoveryCodesRequest struct {
	Password string `json:"password" validate:"required"`
}

// RegenerateRecoveryCodesResponse returns the replacement set
type RegenerateRecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Device DTOs

// DeviceResponse is one device in the user's device list
type DeviceResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	BrowserName string    `json:"browser_name"`
	OSName      string    `json:"os_name"`
	IsTrusted   bool      `json:"is_trusted"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Current     bool      `json:"current"`
}

// TrustDeviceRequest marks a device as trusted
type TrustDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,uuid"`
}

// Admin DTOs

// AdminUnlockRequest clears a lockdown for an identity
type AdminUnlockRequest struct {
	Identity string `json:"identity" validate:"required,max=255"`
}

// LockdownStatusResponse reports the lockdown standing for an identity
type LockdownStatusResponse struct {
	Identity                  string     `json:"identity"`
	IsLocked                  bool       `json:"is_locked"`
	LockedUntil               *time.Time `json:"locked_until,omitempty"`
	LockReason                string     `json:"lock_reason,omitempty"`
	RequiresAdminIntervention bool       `json:"requires_admin_intervention"`
	ConsecutiveFailures       int        `json:"consecutive_failures"`
	LockoutCycles             int        `json:"lockout_cycles"`
}

// AdminDisableRequest disables two-factor for another account
type AdminDisableRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// Audit DTOs

// AuditEntryResponse is one audit row as exposed over the API
type AuditEntryResponse struct {
	ID          string                 `json:"id"`
	Action      string                 `json:"action"`
	ActorID     *string                `json:"actor_id,omitempty"`
	SubjectType string                 `json:"subject_type"`
	SubjectID   *string                `json:"subject_id,omitempty"`
	IPAddress   *string                `json:"ip_address,omitempty"`
	RiskLevel   string                 `json:"risk_level"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// AuditListResponse is a paginated audit trail
type AuditListResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}
