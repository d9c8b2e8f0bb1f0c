package models

import "time"

// Method is the closed set of second-factor verification variants.
type Method string

const (
	MethodTOTP     Method = "totp"
	MethodRecovery Method = "recovery"
	MethodSMS      Method = "sms"
)

// Valid reports whether the method is a known variant.
func (m Method) Valid() bool {
	switch m {
	case MethodTOTP, MethodRecovery, MethodSMS:
		return true
	}
	return false
}

// Action maps a verification method to its rate-limit action type.
func (m Method) Action() ActionType {
	switch m {
	case MethodRecovery:
		return ActionRecovery
	case MethodSMS:
		return ActionSMS
	default:
		return ActionTOTP
	}
}

// SetupState is the two-factor enrollment state machine.
type SetupState string

const (
	SetupNotConfigured   SetupState = "not_configured"
	SetupSecretGenerated SetupState = "secret_generated"
	SetupEnabled         SetupState = "enabled"
	SetupDisabled        SetupState = "disabled"
)

// TwoFactorCredential is the per-user second-factor record.
type TwoFactorCredential struct {
	UserID          string
	SecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	SecretNonce     []byte // GCM nonce
	Enabled         bool
	State           SetupState
	// SecretIssuedAt bounds the SECRET_GENERATED -> ENABLED confirmation window.
	SecretIssuedAt *time.Time
	RecoveryCodes  []RecoveryCodeEntry
	// LastAcceptedStep is the highest TOTP time step already redeemed; a code
	// for a step <= this value is a replay.
	LastAcceptedStep int64
	// Pending SMS challenge, single use, cleared after one verification attempt.
	PendingSMSCodeHash string
	PendingSMSExpires  *time.Time
	LastVerifiedSessionID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RecoveryCodeEntry is a single-use backup credential. The plaintext is shown
// once at generation; only the bcrypt hash is stored.
type RecoveryCodeEntry struct {
	CodeHash string     `json:"code_hash"`
	UsedAt   *time.Time `json:"used_at"`
}

// UnusedRecoveryCodes counts codes still available.
func (c *TwoFactorCredential) UnusedRecoveryCodes() int {
	n := 0
	for _, e := range c.RecoveryCodes {
		if e.UsedAt == nil {
			n++
		}
	}
	return n
}

// VerificationRequest is the inbound contract from the authentication layer.
type VerificationRequest struct {
	UserID         string
	SessionID      string
	Code           string
	Method         Method
	RememberDevice bool
}

// SetupChallenge is returned when enrollment is initiated.
type SetupChallenge struct {
	Secret    string
	QRCode    string // data URL, PNG
	ExpiresAt time.Time
}
