package config

import (
	"os"
	"testing"
	"time"
)

const testKeyHex = "0000000000000000000000000000000000000000000000000000000000000000"

func setRequiredEnv() {
	os.Setenv("TOTP_ENCRYPTION_KEY", testKeyHex)
	os.Setenv("SESSION_MARKER_SECRET", "test-marker-secret-32-chars-long")
	os.Setenv("DB_PASSWORD", "test")
}

func TestSecurityConfig_Defaults(t *testing.T) {
	setRequiredEnv()
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   any
		expected any
	}{
		{"MaxFailedAttempts", cfg.Security.MaxFailedAttempts, 5},
		{"LockoutWindow", cfg.Security.LockoutWindow, 15 * time.Minute},
		{"LockoutDuration", cfg.Security.LockoutDuration, 30 * time.Minute},
		{"MaxLockoutDuration", cfg.Security.MaxLockoutDuration, 4 * time.Hour},
		{"EscalationThreshold", cfg.Security.EscalationThreshold, 3},
		{"EscalationWindow", cfg.Security.EscalationWindow, 24 * time.Hour},
		{"GlobalAttackThreshold", cfg.Security.GlobalAttackThreshold, 20},
		{"RateLimitGrace", cfg.Security.RateLimitGrace, 3},
		{"TOTPIssuer", cfg.Security.TOTPIssuer, "Bastion"},
		{"TOTPToleranceSteps", cfg.Security.TOTPToleranceSteps, uint(1)},
		{"SetupConfirmWindow", cfg.Security.SetupConfirmWindow, 10 * time.Minute},
		{"RecoveryCodeCount", cfg.Security.RecoveryCodeCount, 8},
		{"SMSCodeExpiry", cfg.Security.SMSCodeExpiry, 5 * time.Minute},
		{"AuditRetentionDays", cfg.Security.AuditRetentionDays, 90},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestSecurityConfig_CustomValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("MAX_FAILED_ATTEMPTS", "10")
	os.Setenv("LOCKOUT_DURATION_MINUTES", "60")
	os.Setenv("ESCALATION_WINDOW", "48h")
	os.Setenv("TOTP_ISSUER", "Acme HR")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Security.MaxFailedAttempts != 10 {
		t.Errorf("MaxFailedAttempts: got %d, want 10", cfg.Security.MaxFailedAttempts)
	}
	if cfg.Security.LockoutDuration != 60*time.Minute {
		t.Errorf("LockoutDuration: got %v, want 1h", cfg.Security.LockoutDuration)
	}
	if cfg.Security.EscalationWindow != 48*time.Hour {
		t.Errorf("EscalationWindow: got %v, want 48h", cfg.Security.EscalationWindow)
	}
	if cfg.Security.TOTPIssuer != "Acme HR" {
		t.Errorf("TOTPIssuer: got %q, want %q", cfg.Security.TOTPIssuer, "Acme HR")
	}
}

func TestLoad_RequiresEncryptionKey(t *testing.T) {
	os.Setenv("SESSION_MARKER_SECRET", "test-marker-secret-32-chars-long")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() without TOTP_ENCRYPTION_KEY should fail")
	}
}

func TestLoad_RejectsShortEncryptionKey(t *testing.T) {
	setRequiredEnv()
	os.Setenv("TOTP_ENCRYPTION_KEY", "abcd1234")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() with short key should fail")
	}
}

func TestLoad_RejectsNonHexEncryptionKey(t *testing.T) {
	setRequiredEnv()
	os.Setenv("TOTP_ENCRYPTION_KEY", "zz00000000000000000000000000000000000000000000000000000000000000")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() with non-hex key should fail")
	}
}

func TestLoad_RequiresMarkerSecret(t *testing.T) {
	os.Setenv("TOTP_ENCRYPTION_KEY", testKeyHex)
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() without SESSION_MARKER_SECRET should fail")
	}
}

func TestLoad_ShortMarkerSecretAllowedInDevelopment(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SESSION_MARKER_SECRET", "short")
	defer os.Clearenv()

	if _, err := Load(); err != nil {
		t.Fatalf("Load() in development with short marker secret: %v", err)
	}
}

func TestLoad_ShortMarkerSecretRejectedInProduction(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SESSION_MARKER_SECRET", "short")
	os.Setenv("ENV", "production")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() in production with short marker secret should fail")
	}
}

func TestServerConfig_TrustedProxies(t *testing.T) {
	setRequiredEnv()
	os.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12,")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	want := []string{"10.0.0.0/8", "172.16.0.0/12"}
	if len(cfg.Server.TrustedProxies) != len(want) {
		t.Fatalf("TrustedProxies: got %v, want %v", cfg.Server.TrustedProxies, want)
	}
	for i := range want {
		if cfg.Server.TrustedProxies[i] != want[i] {
			t.Errorf("TrustedProxies[%d]: got %q, want %q", i, cfg.Server.TrustedProxies[i], want[i])
		}
	}
}

func TestSecurityConfig_InvalidIntFallsBackToDefault(t *testing.T) {
	setRequiredEnv()
	os.Setenv("MAX_FAILED_ATTEMPTS", "not-a-number")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Security.MaxFailedAttempts != 5 {
		t.Errorf("MaxFailedAttempts with invalid value: got %d, want 5", cfg.Security.MaxFailedAttempts)
	}
}
