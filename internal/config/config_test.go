package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"licensure/backend/internal/config"
)

func TestLoadConfig(t *testing.T) {
	// Set env var directly to test envconfig logic
	os.Setenv("STRIPE_API_KEY", "sk_test_123")
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("STRIPE_API_KEY")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, "sk_test_123", cfg.StripeAPIKey)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	os.Setenv("STRIPE_API_KEY", "sk_test_123")
	defer os.Unsetenv("STRIPE_API_KEY")

	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_QueueDefaults(t *testing.T) {
	os.Setenv("STRIPE_API_KEY", "sk_test_123")
	defer os.Unsetenv("STRIPE_API_KEY")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 60, cfg.BackoffBaseSeconds)
	assert.Equal(t, 5, cfg.StuckJobTimeoutMinutes)
	assert.Equal(t, 12, cfg.RefundGraceHours)
}

func TestLoadConfig_Overrides(t *testing.T) {
	os.Setenv("STRIPE_API_KEY", "sk_test_123")
	os.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	os.Setenv("TRIAL_PERIOD_DAYS", "30")
	os.Setenv("PROCESS_BATCH_LIMIT", "10")
	defer os.Unsetenv("STRIPE_API_KEY")
	defer os.Unsetenv("QUEUE_MAX_ATTEMPTS")
	defer os.Unsetenv("TRIAL_PERIOD_DAYS")
	defer os.Unsetenv("PROCESS_BATCH_LIMIT")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 5, cfg.QueueMaxAttempts)
	assert.Equal(t, 30, cfg.TrialPeriodDays)
	assert.Equal(t, 10, cfg.ProcessBatchLimit)
}
