package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or forged tokens
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken is returned once a token is older than the max age
	ErrExpiredToken = errors.New("session expired")
)

// Manager issues and verifies HMAC-signed user tokens
type Manager struct {
	secret []byte
	maxAge time.Duration
}

// New creates a token manager
func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive, got %s", maxAge)
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

// StateMaxAge bounds how long an OAuth round trip may take
const StateMaxAge = 10 * time.Minute

const (
	purposeSession = "session"
	purposeState   = "oauth"
)

// Issue signs a bearer session token for userID
func (m *Manager) Issue(userID string, now time.Time) (string, error) {
	return m.issue(purposeSession, userID, now)
}

// Parse verifies a bearer session token and returns its user id
func (m *Manager) Parse(token string, now time.Time) (string, error) {
	return m.parse(purposeSession, token, now, m.maxAge)
}

// IssueState signs a short-lived OAuth state value for userID.
// State values are never accepted as bearer tokens.
func (m *Manager) IssueState(userID string, now time.Time) (string, error) {
	return m.issue(purposeState, userID, now)
}

// ParseState verifies an OAuth state value and returns its user id
func (m *Manager) ParseState(token string, now time.Time) (string, error) {
	return m.parse(purposeState, token, now, StateMaxAge)
}

func (m *Manager) issue(purpose, userID string, now time.Time) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if strings.Contains(userID, "|") {
		return "", errors.New("user id must not contain '|'")
	}

	payload := purpose + "|" + userID + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func (m *Manager) parse(purpose, token string, now time.Time, maxAge time.Duration) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 || parts[0] != purpose || parts[1] == "" {
		return "", ErrInvalidToken
	}
	payload := strings.Join(parts[:3], "|")
	if !m.verify(payload, parts[3]) {
		return "", ErrInvalidToken
	}

	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if now.Sub(time.Unix(issued, 0)) > maxAge {
		return "", ErrExpiredToken
	}
	return parts[1], nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	return hmac.Equal([]byte(m.sign(payload)), []byte(signature))
}
