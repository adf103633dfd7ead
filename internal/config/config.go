package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailchat.db"`

	// Polling
	EmailPollInterval time.Duration `env:"EMAIL_POLL_INTERVAL" envDefault:"1m"`
	IMAPDialTimeout   time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	AccountTimeout    time.Duration `env:"ACCOUNT_TIMEOUT" envDefault:"2m"`
	MessageTimeout    time.Duration `env:"MESSAGE_TIMEOUT" envDefault:"1m"`
	PollConcurrency   int           `env:"POLL_CONCURRENCY" envDefault:"4"`
	MaxEmailsPerCheck int           `env:"MAX_EMAILS_PER_CHECK" envDefault:"5"`

	// Verification
	VerificationCodeTTL time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"5m"`

	// Summarization
	LLMBaseURL         string        `env:"LLM_BASE_URL"`
	LLMAPIKey          string        `env:"LLM_API_KEY,required,notEmpty"`
	LLMModel           string        `env:"LLM_MODEL" envDefault:"gemini-2.0-flash"`
	LLMTimeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxEmailBodyLength int           `env:"MAX_EMAIL_BODY_LENGTH" envDefault:"2000"`
	MaxSummaryTokens   int           `env:"MAX_SUMMARY_TOKENS" envDefault:"150"`

	// Security (optional, at-rest sealing of mailbox secrets)
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// Metrics (empty disables the listener)
	MetricsAddr string `env:"METRICS_ADDR"` // e.g., :9090

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.EmailPollInterval <= 0 {
		return fmt.Errorf("EMAIL_POLL_INTERVAL must be positive")
	}
	if c.PollConcurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be at least 1, got %d", c.PollConcurrency)
	}
	if c.MaxEmailsPerCheck < 1 {
		return fmt.Errorf("MAX_EMAILS_PER_CHECK must be at least 1, got %d", c.MaxEmailsPerCheck)
	}
	if c.VerificationCodeTTL <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_TTL must be positive")
	}
	return nil
}
