package models

import "time"

// LockReason explains why a lockdown record entered a locked state.
type LockReason string

const (
	LockReasonNone           LockReason = ""
	LockReasonFailedAttempts LockReason = "failed_attempts"
	LockReasonRepeatedLocks  LockReason = "repeated_lockouts"
	LockReasonAdminInitiated LockReason = "admin_initiated"
)

// LockdownRecord tracks the escalation state for one identity.
//
// Invariant: IsLocked implies LockedUntil is set (timed lock) or
// RequiresAdminIntervention is true. Both never unset while locked.
type LockdownRecord struct {
	Identity                  string
	IsLocked                  bool
	LockedUntil               *time.Time
	LockReason                LockReason
	RequiresAdminIntervention bool
	ConsecutiveFailures       int
	// LockoutCycles counts distinct temp-lock transitions within the rolling
	// escalation window; drives duration doubling and the admin-lock escalation.
	LockoutCycles int
	FirstCycleAt  *time.Time
	UpdatedAt     time.Time
}

// LockedNow reports whether the record blocks attempts at the given instant.
// Admin locks never expire on their own.
func (r *LockdownRecord) LockedNow(now time.Time) bool {
	if r == nil || !r.IsLocked {
		return false
	}
	if r.RequiresAdminIntervention {
		return true
	}
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}
