package api

import (
	"errors"
	"net/http"

	"github.com/mixelka/replydesk/internal/assistant"
	"github.com/mixelka/replydesk/internal/mailbox"
	"github.com/mixelka/replydesk/internal/provider"
	"github.com/mixelka/replydesk/internal/reply"
	"github.com/sony/gobreaker"
)

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var errorMappings = []errorMapping{
	{assistant.ErrAuthRequired, http.StatusUnauthorized, CodeUnauthorized, false},
	{mailbox.ErrCredentialMissing, http.StatusBadRequest, CodeMailboxNotConnected, false},
	{mailbox.ErrCredentialExpired, http.StatusUnauthorized, CodeCredentialExpired, false},
	{reply.ErrGenerationFailed, http.StatusBadGateway, CodeGenerationFailed, true},
	{mailbox.ErrSendFailed, http.StatusBadGateway, CodeSendFailed, true},
	{assistant.ErrAlreadySent, http.StatusConflict, CodeAlreadySent, false},
	{assistant.ErrLimitExceeded, http.StatusTooManyRequests, CodeLimitExceeded, false},
	{assistant.ErrNotFound, http.StatusNotFound, CodeNotFound, false},
	{assistant.ErrInvalidInput, http.StatusBadRequest, CodeInvalidRequest, false},
	{gobreaker.ErrOpenState, http.StatusServiceUnavailable, CodeUnavailable, true},
	{gobreaker.ErrTooManyRequests, http.StatusServiceUnavailable, CodeUnavailable, true},
}

// classify maps a service error to its HTTP status and envelope code
func classify(err error) (int, string, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.retryable
		}
	}

	// Throttling and outages at Gmail that reached us unwrapped
	if code := provider.StatusCode(err); code == http.StatusTooManyRequests || code >= 500 {
		return http.StatusServiceUnavailable, CodeUnavailable, true
	}
	return http.StatusInternalServerError, CodeInternal, false
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, retryable := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.loggerFor(r).Error("request failed", "error", err)
		message = "internal error"
	} else {
		s.loggerFor(r).Warn("request rejected", "code", code, "error", err)
	}
	writeError(w, status, code, message, retryable)
}
