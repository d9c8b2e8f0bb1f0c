package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bastionauth/bastion/internal/models"
)

func TestValidateRequest_ConfirmSetup(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{"valid code", "123456", true},
		{"all zeros", "000000", true},
		{"empty", "", false},
		{"too short", "12345", false},
		{"too long", "1234567", false},
		{"contains letter", "12345a", false},
		{"contains space", "123 45", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(&ConfirmSetupRequest{Code: tt.code})
			if tt.valid && err != nil {
				t.Errorf("code %q: unexpected error: %v", tt.code, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("code %q: expected validation error", tt.code)
			}
		})
	}
}

func TestValidateRequest_Verify(t *testing.T) {
	tests := []struct {
		name  string
		req   VerifyRequest
		valid bool
	}{
		{"totp", VerifyRequest{Code: "123456", Method: "totp"}, true},
		{"recovery", VerifyRequest{Code: "ABCD2345", Method: "recovery"}, true},
		{"sms", VerifyRequest{Code: "654321", Method: "sms"}, true},
		{"unknown method", VerifyRequest{Code: "123456", Method: "email"}, false},
		{"missing method", VerifyRequest{Code: "123456"}, false},
		{"code too short", VerifyRequest{Code: "123", Method: "totp"}, false},
		{"code too long", VerifyRequest{Code: strings.Repeat("1", 21), Method: "totp"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(&tt.req)
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRequest_TrustDeviceRequiresUUID(t *testing.T) {
	if err := ValidateRequest(&TrustDeviceRequest{DeviceID: "not-a-uuid"}); err == nil {
		t.Error("non-UUID device ID should fail validation")
	}
	if err := ValidateRequest(&TrustDeviceRequest{DeviceID: "7f9c82e4-3d1a-4b6e-9f21-0a5c8d7e6b4f"}); err != nil {
		t.Errorf("valid UUID rejected: %v", err)
	}
}

func TestValidateRequest_ErrorNamesField(t *testing.T) {
	err := ValidateRequest(&VerifyRequest{Code: "123456"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Method") {
		t.Errorf("error should name the failing field: %v", err)
	}
}

func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		errorCode string
	}{
		{"invalid code", models.ErrInvalidCode, http.StatusUnauthorized, "verification_failed"},
		{"rate limited", models.ErrRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"locked down", models.ErrLockedDown, http.StatusLocked, "account_locked"},
		{"admin locked", models.ErrAdminLocked, http.StatusLocked, "account_locked"},
		{"setup not pending", models.ErrSetupNotPending, http.StatusConflict, "conflict"},
		{"setup expired", models.ErrSetupExpired, http.StatusGone, "setup_expired"},
		{"2fa required", models.ErrTwoFactorRequired, http.StatusForbidden, "forbidden"},
		{"unauthorized", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", models.ErrConflict, http.StatusConflict, "conflict"},
		{"bad request", models.ErrBadRequest, http.StatusBadRequest, "bad_request"},
		{"unknown error", assertableError("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)

			if w.Code != tt.code {
				t.Errorf("status: got %d, want %d", w.Code, tt.code)
			}

			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if resp.Error != tt.errorCode {
				t.Errorf("error code: got %q, want %q", resp.Error, tt.errorCode)
			}
		})
	}
}

func TestWriteServiceError_VerificationFailureStaysVague(t *testing.T) {
	w := httptest.NewRecorder()
	writeServiceError(w, models.ErrInvalidCode)

	body := w.Body.String()
	for _, leak := range []string{"totp", "recovery", "sms", "replay", "step"} {
		if strings.Contains(strings.ToLower(body), leak) {
			t.Errorf("verification failure response leaks %q: %s", leak, body)
		}
	}
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
