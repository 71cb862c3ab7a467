package config

import (
	"testing"
	"time"

	"github.com/nalgeon/be"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "client")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/gmail/callback")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SESSION_SECRET", "a-very-long-session-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	be.Err(t, err, nil)
	be.Equal(t, cfg.HTTPAddr, ":8080")
	be.Equal(t, cfg.OpenAIModel, "gpt-4o")
	be.Equal(t, cfg.FetchMaxResults, 10)
	be.Equal(t, cfg.GmailRateLimit, 10.0)
	be.Equal(t, cfg.FreeMessagesPerDay, 50)
	be.Equal(t, cfg.FreeDraftsPerDay, 10)
	be.Equal(t, cfg.ReplyPolicy, ReplyPolicyAll)
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", "short")

	_, err := Load()
	be.Err(t, err, "ENCRYPTION_KEY")
}

func TestLoadRejectsUnknownReplyPolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("REPLY_POLICY", "sometimes")

	_, err := Load()
	be.Err(t, err, "REPLY_POLICY")
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("USAGE_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	be.Err(t, err, "USAGE_TIMEZONE")
}

func TestLoadRequiresOpenAIKey(t *testing.T) {
	setRequired(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	be.Err(t, err)
}

func TestLoadSessionIgnoresProviderSettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SESSION_SECRET", "a-very-long-session-secret")
	t.Setenv("SESSION_MAX_AGE", "1h")

	s, err := LoadSession()
	be.Err(t, err, nil)
	be.Equal(t, s.SessionSecret, "a-very-long-session-secret")
	be.Equal(t, s.SessionMaxAge, time.Hour)

	_, err = Load()
	be.Err(t, err, "OPENAI_API_KEY")
}

func TestLoadSessionRejectsShortSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "short")

	_, err := LoadSession()
	be.Err(t, err, "SESSION_SECRET")
}
