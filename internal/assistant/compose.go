package assistant

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/mixelka/replydesk/pkg/models"
)

// composeReply renders the draft as an RFC 822 text/plain message to the original sender
func composeReply(msg *models.Message, draft *models.Draft, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("To", []*mail.Address{{
		Name:    sanitizeHeader(msg.SenderName),
		Address: sanitizeHeader(msg.SenderAddress),
	}})
	h.SetSubject(sanitizeHeader(draft.Subject))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(draft.PlainBody)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
