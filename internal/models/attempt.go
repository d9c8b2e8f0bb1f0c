package models

import "time"

// ActionType identifies the rate-limited operation a counter belongs to.
type ActionType string

const (
	ActionLogin      ActionType = "login"
	ActionTOTP       ActionType = "2fa_totp"
	ActionRecovery   ActionType = "2fa_recovery"
	ActionSMS        ActionType = "2fa_sms"
	ActionSMSRequest ActionType = "2fa_sms_request"
)

// Valid reports whether the action type is one of the known enumeration values.
func (a ActionType) Valid() bool {
	switch a {
	case ActionLogin, ActionTOTP, ActionRecovery, ActionSMS, ActionSMSRequest:
		return true
	}
	return false
}

// AttemptContext carries the request-scoped identity signals the rate limiter
// and lockdown engine key on. Passed explicitly; the core never reads ambient
// request state.
type AttemptContext struct {
	SubjectID string
	IPAddress string
	UserAgent string
	Action    ActionType
}

// SubjectKey composes the counter key the way the lockdown engine expects:
// user-scoped when a subject is known, otherwise IP-scoped.
func (c AttemptContext) SubjectKey() string {
	if c.SubjectID == "" {
		return c.IPAddress
	}
	return c.SubjectID + "_" + c.IPAddress
}

// AttemptCounter is one TTL'd fixed-window counter row.
type AttemptCounter struct {
	SubjectKey    string
	Action        ActionType
	Count         int
	WindowStart   time.Time
	LastAttemptAt time.Time
}

// RateLimitResult is the outcome of a check-and-increment call.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
