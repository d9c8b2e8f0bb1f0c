package models

import "time"

// EventType classifies a security-relevant occurrence.
type EventType string

const (
	EventLoginFailed              EventType = "login_failed"
	EventVerificationFailed       EventType = "2fa_verification_failed"
	EventVerificationOK           EventType = "2fa_verification_succeeded"
	EventAccountLocked            EventType = "account_locked"
	EventAdminLockTriggered       EventType = "admin_lock_triggered"
	EventAdminUnlock              EventType = "admin_unlock"
	EventTwoFactorEnabled         EventType = "2fa_enabled"
	EventTwoFactorDisabled        EventType = "2fa_disabled"
	EventAdminDisable2FA          EventType = "admin_disable_2fa"
	EventRecoveryCodesRegenerated EventType = "recovery_codes_regenerated"
	EventRecoveryCodesLow         EventType = "recovery_codes_low"
	EventNewDevice                EventType = "new_device"
	EventDeviceTrusted            EventType = "device_trusted"
	EventDeviceRevoked            EventType = "device_trust_revoked"
	EventGlobalAttack             EventType = "global_attack_pattern"
	EventSuspiciousActivity       EventType = "suspicious_activity"
	EventTwoFactorRequired        EventType = "2fa_required"
)

// Severity levels, ordered.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RawEvent is the unclassified input to the security event pipeline.
type RawEvent struct {
	Type          EventType
	SubjectUserID string
	IPAddress     string
	UserAgent     string
	Metadata      map[string]string
	OccurredAt    time.Time
}

// SecurityEvent is the classified, immutable record. Classification is a pure
// function of the raw event; the same input always yields the same fields.
type SecurityEvent struct {
	Type          EventType
	Severity      Severity
	SubjectUserID string
	IPAddress     string
	Metadata      map[string]string
	OccurredAt    time.Time
}
