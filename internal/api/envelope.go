package api

import (
	"encoding/json"
	"net/http"
)

// Error is the error payload of an envelope
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Envelope wraps every JSON response
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Envelope error codes
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnauthorized        = "unauthorized"
	CodeMailboxNotConnected = "mailbox_not_connected"
	CodeCredentialExpired   = "credential_expired"
	CodeGenerationFailed    = "generation_failed"
	CodeSendFailed          = "send_failed"
	CodeAlreadySent         = "already_sent"
	CodeLimitExceeded       = "limit_exceeded"
	CodeNotFound            = "not_found"
	CodeUnavailable         = "provider_unavailable"
	CodeInternal            = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, Envelope{Error: &Error{Code: code, Message: message, Retryable: retryable}})
}
