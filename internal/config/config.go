package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config is loaded from the environment. A .env file in the working
// directory is honored when present (loaded by main before parsing).
type Config struct {
	HTTPAddr     string `env:"HOMEFLOW_HTTP_ADDR" envDefault:":8080"`
	DatabasePath string `env:"HOMEFLOW_DB_PATH" envDefault:"homeflow.db"`
	LogLevel     string `env:"HOMEFLOW_LOG_LEVEL" envDefault:"info"`

	// Workflow tuning.
	FollowUpDelay time.Duration `env:"HOMEFLOW_FOLLOWUP_DELAY" envDefault:"1h"`
	StepTimeout   time.Duration `env:"HOMEFLOW_STEP_TIMEOUT" envDefault:"1m"`
	MaxRetries    int           `env:"HOMEFLOW_MAX_RETRIES" envDefault:"2"`
	RetryDelay    time.Duration `env:"HOMEFLOW_RETRY_DELAY" envDefault:"2s"`
	PoolSize      int           `env:"HOMEFLOW_POOL_SIZE" envDefault:"8"`

	// Timer scheduler.
	SchedulerTick time.Duration `env:"HOMEFLOW_SCHEDULER_TICK" envDefault:"1s"`
	RetentionCron string        `env:"HOMEFLOW_RETENTION_CRON" envDefault:"0 3 * * *"`
	RetentionAge  time.Duration `env:"HOMEFLOW_RETENTION_AGE" envDefault:"720h"`

	// Reasoning service.
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	// Outbound mail. When the Mailgun credentials are absent, outbound
	// mail is written to the log instead.
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailFrom      string `env:"HOMEFLOW_MAIL_FROM" envDefault:"agent@homeflow.local"`
}

// Load parses configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints not expressible as tags.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("HOMEFLOW_MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("HOMEFLOW_STEP_TIMEOUT must be positive, got %s", c.StepTimeout)
	}
	if c.FollowUpDelay <= 0 {
		return fmt.Errorf("HOMEFLOW_FOLLOWUP_DELAY must be positive, got %s", c.FollowUpDelay)
	}
	if (c.MailgunAPIKey == "") != (c.MailgunDomain == "") {
		return fmt.Errorf("MAILGUN_API_KEY and MAILGUN_DOMAIN must be set together")
	}
	return nil
}
