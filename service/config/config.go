// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment
// variables. All required fields are validated at startup to ensure
// fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Webhook configuration
	WebhookURL         string
	WebhookRetryDelays []time.Duration

	// Wallet configuration
	WalletXpub string

	// Invoice configuration
	InvoiceTTL    time.Duration
	SweepInterval time.Duration

	// Fee configuration
	FeeRate decimal.Decimal

	// NATS configuration (optional; empty disables settlement events)
	NATSURL string

	// Rate limiting (invoice creation)
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads configuration from environment variables and validates all
// fields. Returns an error if any configuration is invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Webhook configuration
	cfg.WebhookURL = getEnvOrDefault("WEBHOOK_URL", "http://localhost:9090/webhooks/payments")
	if _, err := url.ParseRequestURI(cfg.WebhookURL); err != nil {
		errs = append(errs, fmt.Errorf("WEBHOOK_URL: invalid URL %q: %w", cfg.WebhookURL, err))
	}

	delays, err := parseDurationList("WEBHOOK_RETRY_DELAYS", "5s,10s,30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WebhookRetryDelays = delays
	}

	// Wallet configuration (empty selects the simulated derivation root)
	cfg.WalletXpub = os.Getenv("WALLET_XPUB")

	// Invoice configuration
	ttl, err := parseDuration("INVOICE_TTL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.InvoiceTTL = ttl
	}

	sweep, err := parseDuration("SWEEP_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SweepInterval = sweep
	}

	// Fee configuration
	feeRate := getEnvOrDefault("FEE_RATE", "0.00001")
	rate, err := decimal.NewFromString(feeRate)
	if err != nil {
		errs = append(errs, fmt.Errorf("FEE_RATE: invalid decimal %q: %w", feeRate, err))
	} else {
		cfg.FeeRate = rate
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Rate limiting
	max, err := parseInt("RATE_LIMIT_MAX", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitMax = max
	}

	window, err := parseDuration("RATE_LIMIT_WINDOW", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitWindow = window
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid. Useful for
// server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid. This is useful for testing
// configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("WebhookURL is required"))
	}

	if len(c.WebhookRetryDelays) == 0 {
		errs = append(errs, fmt.Errorf("WebhookRetryDelays must contain at least one delay"))
	}
	for _, d := range c.WebhookRetryDelays {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("WebhookRetryDelays must all be positive, got %v", d))
			break
		}
	}

	if c.InvoiceTTL <= 0 {
		errs = append(errs, fmt.Errorf("InvoiceTTL must be positive"))
	}

	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("SweepInterval must be at least 1 second"))
	}

	if c.FeeRate.Sign() < 0 {
		errs = append(errs, fmt.Errorf("FeeRate cannot be negative"))
	}

	if c.RateLimitMax <= 0 {
		errs = append(errs, fmt.Errorf("RateLimitMax must be positive"))
	}

	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RateLimitWindow must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseDurationList parses a comma-separated list of durations.
func parseDurationList(key, defaultValue string) ([]time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	parts := strings.Split(value, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", key, part, err)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
