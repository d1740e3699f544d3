// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Email provider names accepted by EMAIL_PROVIDER.
const (
	EmailProviderAPI  = "api"
	EmailProviderSMTP = "smtp"
	EmailProviderNop  = "nop"
)

// Config holds all env configuration vars for Herald.
type Config struct {
	DatabaseURL string
	RedisURL    string // optional, empty disables login rate limiting
	Port        string
	BaseURL     string
	HMACSecret  string
	LogLevel    slog.Level

	// Session cookie + persistence.
	SessionTTL             time.Duration
	SessionCleanupEnabled  bool
	SessionCleanupInterval time.Duration
	CookieName             string
	CookieSecure           bool

	// Email client. Provider picks which fields matter.
	Email EmailConfig

	// Delivery worker running inside this process.
	WorkerEnabled   bool
	WorkerIdleDelay time.Duration

	// Rate limit policy for login attempts per username.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginMax     int
	RateLoginWindow  time.Duration
	RateLoginLockout time.Duration

	// Optional first admin, created at startup when the username is free.
	AdminUsername string
	AdminPassword string

	OTEL OTELConfig
}

// EmailConfig configures the outbound email client.
type EmailConfig struct {
	Provider   string
	BaseURL    string
	AuthToken  string
	ProjectID  string
	Sender     string
	SenderName string
	Timeout    time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
}

// OTELConfig configures trace export. Disabled means spans go to the no-op provider.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, HMAC_SECRET) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Signs session cookies, anything short is guessable
	cfg.HMACSecret = os.Getenv("HMAC_SECRET")
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, fmt.Errorf("HMAC_SECRET must be at least 32 bytes")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.BaseURL = strings.TrimSuffix(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.SessionTTL = envDuration("SESSION_TTL", 24*time.Hour)
	// Reaper is opt-in, expired rows are already invisible to loads.
	cfg.SessionCleanupEnabled = envBool("SESSION_CLEANUP_ENABLED", false)
	cfg.SessionCleanupInterval = envDuration("SESSION_CLEANUP_INTERVAL", 30*time.Second)
	cfg.CookieName = os.Getenv("COOKIE_NAME")
	if cfg.CookieName == "" {
		cfg.CookieName = "session"
	}
	// Default true -- only explicit "false" disables.
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	email, err := loadEmailConfig()
	if err != nil {
		return nil, err
	}
	cfg.Email = email

	cfg.WorkerEnabled = envBool("WORKER_ENABLED", true)
	cfg.WorkerIdleDelay = envDuration("WORKER_IDLE_DELAY", time.Second)

	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX", 10)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", 10*time.Minute)
	cfg.RateLoginLockout = envDuration("RATE_LOGIN_LOCKOUT", 15*time.Minute)

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	if (cfg.AdminUsername == "") != (cfg.AdminPassword == "") {
		return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}

	cfg.OTEL = OTELConfig{
		Enabled:     envBool("OTEL_ENABLED", false),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    envBool("OTEL_INSECURE", false),
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
		SampleRatio: envFloat("OTEL_SAMPLE_RATIO", 1.0),
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "herald"
	}
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint == "" {
		return nil, fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true")
	}

	return cfg, nil
}

// loadEmailConfig reads EMAIL_* and SMTP_* vars and checks the chosen provider has what it needs.
func loadEmailConfig() (EmailConfig, error) {
	ec := EmailConfig{
		Provider:     strings.ToLower(os.Getenv("EMAIL_PROVIDER")),
		BaseURL:      strings.TrimSuffix(os.Getenv("EMAIL_BASE_URL"), "/"),
		AuthToken:    os.Getenv("EMAIL_AUTH_TOKEN"),
		ProjectID:    os.Getenv("EMAIL_PROJECT_ID"),
		Sender:       os.Getenv("EMAIL_SENDER"),
		SenderName:   os.Getenv("EMAIL_SENDER_NAME"),
		Timeout:      envDuration("EMAIL_TIMEOUT", 10*time.Second),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     os.Getenv("SMTP_PORT"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
	}
	if ec.Provider == "" {
		ec.Provider = EmailProviderAPI
	}
	if ec.SMTPPort == "" {
		ec.SMTPPort = "587"
	}

	switch ec.Provider {
	case EmailProviderAPI:
		if ec.BaseURL == "" || ec.AuthToken == "" {
			return ec, fmt.Errorf("EMAIL_BASE_URL and EMAIL_AUTH_TOKEN are required for the api email provider")
		}
	case EmailProviderSMTP:
		if ec.SMTPHost == "" {
			return ec, fmt.Errorf("SMTP_HOST is required for the smtp email provider")
		}
	case EmailProviderNop:
		return ec, nil
	default:
		return ec, fmt.Errorf("unknown EMAIL_PROVIDER %q", ec.Provider)
	}

	if ec.Sender == "" {
		return ec, fmt.Errorf("EMAIL_SENDER is required")
	}
	return ec, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// envFloat reads a ratio in [0,1], returning def if missing or out of range.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}
