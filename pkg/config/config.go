// Package config loads gateway process configuration from environment
// variables. Call-governance settings (allow-list, approval classes,
// timeout, retries) live in package policy; this covers the process
// around them.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	AuditBackend string // "memory", "sqlite" or "postgres"
	AuditDSN     string // file path for sqlite, conninfo for postgres
	AuthSecret   string // empty disables bearer auth
	RateRPS      int    // 0 disables rate limiting
	RateBurst    int
	BridgeURL    string // remote tool runner, empty disables the bridge
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("RIG_PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("RIG_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := strings.ToLower(os.Getenv("RIG_AUDIT_BACKEND"))
	if backend == "" {
		backend = "sqlite"
	}

	dsn := os.Getenv("RIG_AUDIT_DSN")
	if dsn == "" && backend == "sqlite" {
		dsn = "rig_audit.db"
	}

	rps := intEnv("RIG_RATE_RPS", 0)
	burst := intEnv("RIG_RATE_BURST", rps*2)

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		AuditBackend: backend,
		AuditDSN:     dsn,
		AuthSecret:   os.Getenv("RIG_AUTH_SECRET"),
		RateRPS:      rps,
		RateBurst:    burst,
		BridgeURL:    os.Getenv("RIG_BRIDGE_URL"),
	}
}

// SlogLevel maps the configured level name onto slog's scale. Unknown
// names fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
