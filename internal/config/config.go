package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultCriticalModules lists the subsystems whose audit entries are always
// delivered synchronously at critical priority.
var DefaultCriticalModules = []string{"auth", "user", "permission", "approval"}

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// Audit pipeline
	AuditSecret            string
	AuditSecretIsEphemeral bool
	AuditAsync             bool
	AuditBatchSize         int
	AuditBatchWindow       time.Duration
	CriticalModules        []string
	RetentionDays          int

	// Emergency channel (shoutrrr URLs, comma separated)
	AlertURLs []string

	// Actor identity middleware
	JWTSecret string
}

// Load reads env vars and falls back to defaults so the server can boot with
// zero configuration outside production. The integrity secret is the one
// setting that is mandatory in production: without it, previously signed
// ledger entries cannot be verified across restarts.
func Load() (Config, error) {
	cfg := Config{
		Environment:      getEnv("HRMS_ENV", "development"),
		HTTPPort:         getEnv("HRMS_HTTP_PORT", "8080"),
		DatabasePath:     getEnv("HRMS_DB_PATH", filepath.Join("data", "hrms.db")),
		AuditSecret:      os.Getenv("HRMS_AUDIT_SECRET"),
		AuditAsync:       getEnvBool("HRMS_AUDIT_ASYNC", true),
		AuditBatchSize:   getEnvInt("HRMS_AUDIT_BATCH_SIZE", 10),
		AuditBatchWindow: time.Duration(getEnvInt("HRMS_AUDIT_BATCH_WINDOW_SECONDS", 5)) * time.Second,
		CriticalModules:  getEnvList("HRMS_AUDIT_CRITICAL_MODULES", DefaultCriticalModules),
		RetentionDays:    getEnvInt("HRMS_AUDIT_RETENTION_DAYS", 0),
		AlertURLs:        getEnvList("HRMS_ALERT_URLS", nil),
		JWTSecret:        os.Getenv("HRMS_JWT_SECRET"),
	}

	if cfg.AuditSecret == "" {
		if cfg.Environment == "production" {
			return Config{}, fmt.Errorf("HRMS_AUDIT_SECRET is required in production")
		}
		secret, err := ephemeralSecret()
		if err != nil {
			return Config{}, fmt.Errorf("generate ephemeral audit secret: %w", err)
		}
		cfg.AuditSecret = secret
		cfg.AuditSecretIsEphemeral = true
	}

	if cfg.AuditBatchSize < 1 {
		cfg.AuditBatchSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// ephemeralSecret produces a random secret for non-production runs. Entries
// signed with it cannot be verified after a restart.
func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}

	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}

	return out
}
