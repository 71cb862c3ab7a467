package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Reply policies
const (
	ReplyPolicyAll       = "all"
	ReplyPolicyAutomated = "automated"
)

// Config application configuration
type Config struct {
	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/replydesk.db"`

	// Google OAuth / Gmail
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`
	GmailEndpoint      string        `env:"GMAIL_ENDPOINT"` // Override for local testing
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	FetchMaxResults    int           `env:"FETCH_MAX_RESULTS" envDefault:"10"`
	GmailRateLimit     float64       `env:"GMAIL_RATE_LIMIT" envDefault:"10"` // Requests per second

	// OpenAI
	OpenAIAPIKey  string `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Usage limits (free tier, per local day)
	FreeMessagesPerDay int    `env:"FREE_MESSAGES_PER_DAY" envDefault:"50"`
	FreeDraftsPerDay   int    `env:"FREE_DRAFTS_PER_DAY" envDefault:"10"`
	UsageTimezone      string `env:"USAGE_TIMEZONE" envDefault:"Local"`

	// Classification
	ReplyPolicy string `env:"REPLY_POLICY" envDefault:"all"` // "all" or "automated"

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required,notEmpty"`
	Session

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Session holds the bearer token settings
type Session struct {
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
}

// Validate checks the session settings
func (s *Session) Validate() error {
	if len(s.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 bytes, got %d", len(s.SessionSecret))
	}
	return nil
}

// LoadSession loads only the session settings, for commands that mint tokens
// without talking to Gmail or OpenAI
func LoadSession() (*Session, error) {
	_ = godotenv.Load()

	s := &Session{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Location returns the time zone used for daily usage windows
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.UsageTimezone)
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

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	if c.FetchMaxResults <= 0 || c.FetchMaxResults > 500 {
		return fmt.Errorf("FETCH_MAX_RESULTS must be between 1 and 500, got %d", c.FetchMaxResults)
	}

	if c.GmailRateLimit < 0 {
		return fmt.Errorf("GMAIL_RATE_LIMIT must not be negative, got %v", c.GmailRateLimit)
	}

	if c.FreeMessagesPerDay < 0 || c.FreeDraftsPerDay < 0 {
		return fmt.Errorf("free tier limits must not be negative")
	}

	switch c.ReplyPolicy {
	case ReplyPolicyAll, ReplyPolicyAutomated:
	default:
		return fmt.Errorf("REPLY_POLICY must be %q or %q, got %q", ReplyPolicyAll, ReplyPolicyAutomated, c.ReplyPolicy)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid USAGE_TIMEZONE: %w", err)
	}

	return nil
}
