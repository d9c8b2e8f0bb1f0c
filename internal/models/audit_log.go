package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions for sensitive state changes
const (
	AuditActionVerify             = "2fa_verify"
	AuditActionSetupInitiated     = "2fa_setup_initiated"
	AuditActionSetupConfirmed     = "2fa_setup_confirmed"
	AuditActionDisable            = "2fa_disabled"
	AuditActionRecoveryRegenerate = "recovery_codes_regenerated"
	AuditActionLockout            = "account_locked"
	AuditActionAdminUnlock        = "admin_unlock"
	AuditActionDeviceTrusted      = "device_trusted"
	AuditActionDeviceRevoked      = "device_trust_revoked"
	AuditActionSecurityEvent      = "security_event"
)

// Subject types
const (
	AuditSubjectUser   = "user"
	AuditSubjectDevice = "device"
	AuditSubjectLockdown = "lockdown"
)

// AuditEntry is one append-only row of the audit trail. Rows are never
// mutated after creation.
type AuditEntry struct {
	ID          uuid.UUID     `db:"id"`
	Action      string        `db:"action"`
	ActorID     *string       `db:"actor_id"`
	SubjectType string        `db:"subject_type"`
	SubjectID   *string       `db:"subject_id"`
	OldValues   AuditValues   `db:"old_values"`
	NewValues   AuditValues   `db:"new_values"`
	IPAddress   *string       `db:"ip_address"`
	UserAgent   *string       `db:"user_agent"`
	RiskLevel   Severity      `db:"risk_level"`
	Metadata    AuditValues   `db:"metadata"`
	CreatedAt   time.Time     `db:"created_at"`
}

// AuditValues holds before/after snapshots and free-form context as JSONB.
type AuditValues map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (av *AuditValues) Scan(value interface{}) error {
	if value == nil {
		*av = make(AuditValues)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*av = AuditValues(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (av AuditValues) Value() (driver.Value, error) {
	if av == nil {
		return nil, nil
	}
	return json.Marshal(av)
}
