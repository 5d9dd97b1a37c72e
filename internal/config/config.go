package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"licensure"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"licensure"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	StripeAPIKey string `envconfig:"STRIPE_API_KEY"`
	StripeAPIURL string `envconfig:"STRIPE_API_URL" default:"https://api.stripe.com/v1"`

	// Provisioning queue tuning
	QueueMaxAttempts       int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBaseSeconds     int `envconfig:"BACKOFF_BASE_SECONDS" default:"60"`
	StuckJobTimeoutMinutes int `envconfig:"STUCK_JOB_TIMEOUT_MINUTES" default:"5"`
	RefundGraceHours       int `envconfig:"REFUND_GRACE_HOURS" default:"12"`
	TrialPeriodDays        int `envconfig:"TRIAL_PERIOD_DAYS" default:"14"`
	ProcessBatchLimit      int `envconfig:"PROCESS_BATCH_LIMIT" default:"25"`
	RefundSweepLimit       int `envconfig:"REFUND_SWEEP_LIMIT" default:"50"`
	SiteBatchDelayMillis   int `envconfig:"SITE_BATCH_DELAY_MILLIS" default:"500"`

	// Periodic triggers
	ProcessIntervalSeconds   int `envconfig:"PROCESS_INTERVAL_SECONDS" default:"60"`
	RefundSweepIntervalSeconds int `envconfig:"REFUND_SWEEP_INTERVAL_SECONDS" default:"3600"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.StripeAPIKey == "" {
		return fmt.Errorf("%w: STRIPE_API_KEY", ErrMissingRequired)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.QueueMaxAttempts)
	}
	return nil
}
