package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

// SecurityConfig is the recognized tuning surface of the risk core.
type SecurityConfig struct {
	// Rate limiting / lockout
	MaxFailedAttempts     int
	LockoutWindow         time.Duration
	LockoutDuration       time.Duration
	MaxLockoutDuration    time.Duration
	EscalationThreshold   int
	EscalationWindow      time.Duration
	GlobalAttackThreshold int
	GlobalAttackWindow    time.Duration
	RateLimitGrace        int

	// Two-factor
	TOTPIssuer         string
	TOTPToleranceSteps uint
	TOTPEncryptionKey  []byte // 32 bytes, AES-256
	SetupConfirmWindow time.Duration
	RecoveryCodeLength int
	RecoveryCodeCount  int
	SMSCodeExpiry      time.Duration

	// Session marker
	SessionMarkerSecret string
	SessionMarkerTTL    time.Duration

	// Housekeeping
	CleanupInterval    time.Duration
	AuditRetentionDays int
}

type NotifyConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	AdminAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	keyHex := getEnv("TOTP_ENCRYPTION_KEY", "")
	if keyHex == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}

	markerSecret := getEnv("SESSION_MARKER_SECRET", "")
	if markerSecret == "" {
		return nil, fmt.Errorf("SESSION_MARKER_SECRET is required")
	}
	if len(markerSecret) < 32 && env == "production" {
		return nil, fmt.Errorf("SESSION_MARKER_SECRET must be at least 32 characters in production")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Security: SecurityConfig{
			MaxFailedAttempts:     getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			LockoutWindow:         time.Duration(getEnvAsInt("LOCKOUT_WINDOW_MINUTES", 15)) * time.Minute,
			LockoutDuration:       time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 30)) * time.Minute,
			MaxLockoutDuration:    getEnvAsDuration("MAX_LOCKOUT_DURATION", 4*time.Hour),
			EscalationThreshold:   getEnvAsInt("ESCALATION_THRESHOLD", 3),
			EscalationWindow:      getEnvAsDuration("ESCALATION_WINDOW", 24*time.Hour),
			GlobalAttackThreshold: getEnvAsInt("GLOBAL_ATTACK_THRESHOLD", 20),
			GlobalAttackWindow:    getEnvAsDuration("GLOBAL_ATTACK_WINDOW", 5*time.Minute),
			RateLimitGrace:        getEnvAsInt("RATE_LIMIT_GRACE", 3),

			TOTPIssuer:         getEnv("TOTP_ISSUER", "Bastion"),
			TOTPToleranceSteps: uint(getEnvAsInt("TOTP_TOLERANCE_STEPS", 1)),
			TOTPEncryptionKey:  key,
			SetupConfirmWindow: getEnvAsDuration("SETUP_CONFIRM_WINDOW", 10*time.Minute),
			RecoveryCodeLength: getEnvAsInt("RECOVERY_CODE_LENGTH", 8),
			RecoveryCodeCount:  getEnvAsInt("RECOVERY_CODE_COUNT", 8),
			SMSCodeExpiry:      time.Duration(getEnvAsInt("SMS_CODE_EXPIRY_MINUTES", 5)) * time.Minute,

			SessionMarkerSecret: markerSecret,
			SessionMarkerTTL:    getEnvAsDuration("SESSION_MARKER_TTL", 12*time.Hour),

			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AuditRetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
		},
		Notify: NotifyConfig{
			Enabled:      getEnvAsBool("NOTIFY_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("NOTIFY_FROM_ADDRESS", ""),
			AdminAddress: getEnv("NOTIFY_ADMIN_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Notify.Enabled && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS is required when NOTIFY_ENABLED=true")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
