package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Status sources understood by the checkout poller.
const (
	StatusSourceOrder  = "order"
	StatusSourceNative = "status"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	PublicBaseURL      string

	GatewayBaseURL        string
	GatewayTimeout        time.Duration
	GatewayStatusSource   string
	GatewayStatusAttempts int
	RetryBase             time.Duration
	RetryJitterPercent    float64

	CircuitGatewayMinReq      int
	CircuitGatewayFailureRate float64
	CircuitGatewayOpenFor     time.Duration

	CheckoutPollInterval    time.Duration
	CheckoutPaymentDeadline time.Duration
	CheckoutSessionIdleTTL  time.Duration
	CheckoutSubmitMax       int
	CheckoutSubmitWindow    time.Duration
	IdempotencyTTL          time.Duration

	APIRateLimit   string
	BodyLimitBytes int64

	QRSizePx int

	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	QueueConcurrency   int
	QueueMaxRetry      int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),

		GatewayBaseURL:        strings.TrimRight(valueOrDefault(k.String("GATEWAY_BASE_URL"), "http://localhost:4000"), "/"),
		GatewayTimeout:        parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayStatusSource:   strings.ToLower(valueOrDefault(k.String("GATEWAY_STATUS_SOURCE"), StatusSourceOrder)),
		GatewayStatusAttempts: parseInt(k.String("GATEWAY_STATUS_MAX_ATTEMPTS"), 1),
		RetryBase:             parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitterPercent:    parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		CircuitGatewayMinReq:      parseInt(k.String("CIRCUIT_GATEWAY_MIN_REQ"), 10),
		CircuitGatewayFailureRate: parseFloat(k.String("CIRCUIT_GATEWAY_FAILURE_RATE"), 0.5),
		CircuitGatewayOpenFor:     parseDuration(k.String("CIRCUIT_GATEWAY_OPEN_FOR"), "30s"),

		CheckoutPollInterval:    parseDuration(k.String("CHECKOUT_POLL_INTERVAL"), "3s"),
		CheckoutPaymentDeadline: parseDuration(k.String("CHECKOUT_PAYMENT_DEADLINE"), "10m"),
		CheckoutSessionIdleTTL:  parseDuration(k.String("CHECKOUT_SESSION_IDLE_TTL"), "30m"),
		CheckoutSubmitMax:       parseInt(k.String("CHECKOUT_SUBMIT_RATE_MAX"), 5),
		CheckoutSubmitWindow:    parseDuration(k.String("CHECKOUT_SUBMIT_RATE_WINDOW"), "1m"),
		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		APIRateLimit:   valueOrDefault(k.String("API_RATE_LIMIT"), "300-M"),
		BodyLimitBytes: int64(parseInt(k.String("BODY_LIMIT_BYTES"), 16<<10)),

		QRSizePx: parseInt(k.String("QR_SIZE_PX"), 320),

		NotifyEmailEnabled: parseBool(valueOrDefault(k.String("NOTIFY_EMAIL_ENABLED"), "true")),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "no-reply@toko.local"),
		QueueConcurrency:   parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		QueueMaxRetry:      parseInt(k.String("QUEUE_MAX_RETRY"), 8),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.GatewayStatusSource {
	case StatusSourceOrder, StatusSourceNative:
	default:
		return nil, fmt.Errorf("GATEWAY_STATUS_SOURCE must be %q or %q", StatusSourceOrder, StatusSourceNative)
	}
	if cfg.CheckoutPollInterval <= 0 {
		return nil, errors.New("CHECKOUT_POLL_INTERVAL must be positive")
	}
	if cfg.CheckoutPaymentDeadline <= cfg.CheckoutPollInterval {
		return nil, errors.New("CHECKOUT_PAYMENT_DEADLINE must exceed CHECKOUT_POLL_INTERVAL")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// PollQueryTimeout bounds a single status query so queries never overlap the next tick.
func (c *Config) PollQueryTimeout() time.Duration {
	if c.GatewayTimeout > 0 && c.GatewayTimeout < c.CheckoutPollInterval {
		return c.GatewayTimeout
	}
	return c.CheckoutPollInterval
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
