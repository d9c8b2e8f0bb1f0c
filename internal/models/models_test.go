package models

import (
	"testing"
	"time"
)

func TestActionType_Valid(t *testing.T) {
	for _, a := range []ActionType{ActionLogin, ActionTOTP, ActionRecovery, ActionSMS, ActionSMSRequest} {
		if !a.Valid() {
			t.Errorf("%q should be valid", a)
		}
	}
	for _, a := range []ActionType{"", "login2", "totp"} {
		if a.Valid() {
			t.Errorf("%q should be invalid", a)
		}
	}
}

func TestAttemptContext_SubjectKey(t *testing.T) {
	withSubject := AttemptContext{SubjectID: "user-1", IPAddress: "203.0.113.10"}
	if got := withSubject.SubjectKey(); got != "user-1_203.0.113.10" {
		t.Errorf("SubjectKey with subject: got %q", got)
	}

	anonymous := AttemptContext{IPAddress: "203.0.113.10"}
	if got := anonymous.SubjectKey(); got != "203.0.113.10" {
		t.Errorf("SubjectKey without subject: got %q", got)
	}
}

func TestLockdownRecord_LockedNow(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	tests := []struct {
		name   string
		record *LockdownRecord
		want   bool
	}{
		{"nil record", nil, false},
		{"not locked", &LockdownRecord{IsLocked: false}, false},
		{"timed lock active", &LockdownRecord{IsLocked: true, LockedUntil: &future}, true},
		{"timed lock expired", &LockdownRecord{IsLocked: true, LockedUntil: &past}, false},
		{"locked flag without deadline", &LockdownRecord{IsLocked: true}, false},
		{"admin lock ignores deadline", &LockdownRecord{IsLocked: true, RequiresAdminIntervention: true, LockedUntil: &past}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.LockedNow(now); got != tt.want {
				t.Errorf("LockedNow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMethod_Valid(t *testing.T) {
	for _, m := range []Method{MethodTOTP, MethodRecovery, MethodSMS} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Method("email").Valid() {
		t.Error("unknown method should be invalid")
	}
}

func TestMethod_Action(t *testing.T) {
	tests := []struct {
		method Method
		want   ActionType
	}{
		{MethodTOTP, ActionTOTP},
		{MethodRecovery, ActionRecovery},
		{MethodSMS, ActionSMS},
	}
	for _, tt := range tests {
		if got := tt.method.Action(); got != tt.want {
			t.Errorf("%q.Action() = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestTwoFactorCredential_UnusedRecoveryCodes(t *testing.T) {
	used := time.Now()
	cred := &TwoFactorCredential{
		RecoveryCodes: []RecoveryCodeEntry{
			{CodeHash: "a"},
			{CodeHash: "b", UsedAt: &used},
			{CodeHash: "c"},
		},
	}
	if got := cred.UnusedRecoveryCodes(); got != 2 {
		t.Errorf("UnusedRecoveryCodes() = %d, want 2", got)
	}

	empty := &TwoFactorCredential{}
	if got := empty.UnusedRecoveryCodes(); got != 0 {
		t.Errorf("UnusedRecoveryCodes() on empty = %d, want 0", got)
	}
}

func TestUser_TwoFactorRequired(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{"admin", true},
		{"manager", true},
		{"employee", false},
		{"", false},
	}
	for _, tt := range tests {
		u := &User{Role: tt.role}
		if got := u.TwoFactorRequired(); got != tt.want {
			t.Errorf("role %q: TwoFactorRequired() = %v, want %v", tt.role, got, tt.want)
		}
	}
}
