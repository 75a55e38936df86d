// Package config loads all runtime configuration from environment variables.
// A .env file in the working directory, when present, seeds the environment
// first; variables already set in the process environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the procurement service.
type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Log     LogConfig
	JWT     JWTConfig
	App     AppConfig
	Worker  WorkerConfig
	OTel    OTelConfig
	Mail    MailConfig
	Session SessionConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "procurement.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
	File   string // optional rotating log file in addition to stdout
}

// JWTConfig holds JSON Web Token signing and expiry settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AppConfig holds application-level settings such as seed credentials.
type AppConfig struct {
	SeedAdminEmail    string
	SeedAdminPassword string
	BaseURL           string
}

// WorkerConfig holds background task settings.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// MailConfig holds SMTP settings. An empty Host disables outgoing mail.
type MailConfig struct {
	Host          string
	Port          int
	User          string
	Password      string //nolint:gosec // intentional: SMTP password loaded from env
	From          string
	SkipTLSVerify bool
}

// SessionConfig controls the lifetime of server-side client sessions.
type SessionConfig struct {
	IdleTTL       time.Duration // sessions untouched for this long are disposed
	SweepInterval time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "procurement.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")
	cfg.Log.File = os.Getenv("LOG_FILE")

	// JWT (required)
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	var err error
	cfg.JWT.AccessTTL, err = envDuration("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	cfg.JWT.RefreshTTL, err = envDuration("JWT_REFRESH_TTL", 720*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}

	// App
	cfg.App.SeedAdminEmail = envStr("SEED_ADMIN_EMAIL", "admin@clmc.local")
	cfg.App.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")
	cfg.App.BaseURL = envStr("APP_BASE_URL", "http://localhost:8080")

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 4)
	cfg.Worker.MaxAttempts = envInt("WORKER_MAX_ATTEMPTS", 5)
	if cfg.Worker.MaxAttempts < 1 {
		return nil, errors.New("WORKER_MAX_ATTEMPTS must be at least 1")
	}

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// Mail
	cfg.Mail.Host = os.Getenv("SMTP_HOST")
	cfg.Mail.Port = envInt("SMTP_PORT", 587)
	cfg.Mail.User = os.Getenv("SMTP_USER")
	cfg.Mail.Password = os.Getenv("SMTP_PASS")
	cfg.Mail.From = envStr("SMTP_FROM", "CLMC Procurement <no-reply@clmc.local>")
	cfg.Mail.SkipTLSVerify = os.Getenv("SMTP_SKIP_TLS_VERIFY") == "1"

	// Session
	cfg.Session.IdleTTL, err = envDuration("SESSION_IDLE_TTL", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SESSION_IDLE_TTL: %w", err)
	}
	cfg.Session.SweepInterval, err = envDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SESSION_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Session.SweepInterval <= 0 {
		return nil, errors.New("SESSION_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
