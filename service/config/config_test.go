package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://localhost:9090/webhooks/payments", cfg.WebhookURL)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}, cfg.WebhookRetryDelays)
	assert.Equal(t, time.Hour, cfg.InvoiceTTL)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.True(t, cfg.FeeRate.Equal(decimal.RequireFromString("0.00001")))
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("WEBHOOK_URL", "https://merchant.example.com/hooks")
	t.Setenv("WEBHOOK_RETRY_DELAYS", "1s,2s")
	t.Setenv("INVOICE_TTL", "30m")
	t.Setenv("FEE_RATE", "0.0005")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("RATE_LIMIT_MAX", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, "https://merchant.example.com/hooks", cfg.WebhookURL)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.WebhookRetryDelays)
	assert.Equal(t, 30*time.Minute, cfg.InvoiceTTL)
	assert.True(t, cfg.FeeRate.Equal(decimal.RequireFromString("0.0005")))
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 3, cfg.RateLimitMax)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad webhook url", "WEBHOOK_URL", "://not-a-url"},
		{"bad retry delays", "WEBHOOK_RETRY_DELAYS", "5s,banana"},
		{"bad ttl", "INVOICE_TTL", "soon"},
		{"bad fee rate", "FEE_RATE", "one percent"},
		{"bad rate limit", "RATE_LIMIT_MAX", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerAddr:         ":8080",
			LogLevel:           "info",
			WebhookURL:         "http://localhost:9090/hooks",
			WebhookRetryDelays: []time.Duration{5 * time.Second},
			InvoiceTTL:         time.Hour,
			SweepInterval:      5 * time.Second,
			FeeRate:            decimal.RequireFromString("0.00001"),
			RateLimitMax:       10,
			RateLimitWindow:    time.Minute,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("missing webhook url", func(t *testing.T) {
		cfg := valid()
		cfg.WebhookURL = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("empty retry delays", func(t *testing.T) {
		cfg := valid()
		cfg.WebhookRetryDelays = nil
		require.Error(t, cfg.Validate())
	})

	t.Run("negative retry delay", func(t *testing.T) {
		cfg := valid()
		cfg.WebhookRetryDelays = []time.Duration{-time.Second}
		require.Error(t, cfg.Validate())
	})

	t.Run("zero ttl", func(t *testing.T) {
		cfg := valid()
		cfg.InvoiceTTL = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("sweep interval too small", func(t *testing.T) {
		cfg := valid()
		cfg.SweepInterval = 100 * time.Millisecond
		require.Error(t, cfg.Validate())
	})

	t.Run("negative fee rate", func(t *testing.T) {
		cfg := valid()
		cfg.FeeRate = decimal.RequireFromString("-0.1")
		require.Error(t, cfg.Validate())
	})

	t.Run("zero rate limit", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimitMax = 0
		require.Error(t, cfg.Validate())
	})
}
