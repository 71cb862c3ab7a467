package normalizer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/mixelka/replydesk/internal/provider"
	"github.com/mixelka/replydesk/pkg/models"
	"google.golang.org/api/gmail/v1"
)

// ErrMalformedMessage is returned when the part tree cannot be walked.
// The accompanying message still carries its headers.
var ErrMalformedMessage = errors.New("malformed message")

// DefaultMaxDepth bounds MIME nesting
const DefaultMaxDepth = 20

var senderRegex = regexp.MustCompile(`^(.*?)\s*<(.*)>$`)

// Normalizer converts provider messages into stored messages
type Normalizer struct {
	maxDepth   int
	classifier Classifier
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithMaxDepth overrides the nesting bound
func WithMaxDepth(depth int) Option {
	return func(n *Normalizer) { n.maxDepth = depth }
}

// WithClassifier sets the reply policy
func WithClassifier(c Classifier) Option {
	return func(n *Normalizer) { n.classifier = c }
}

// New creates a normalizer that marks every message as requiring a reply
// unless another classifier is given
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		maxDepth:   DefaultMaxDepth,
		classifier: ReplyAll{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps a full Gmail message to a Message owned by userID.
// On ErrMalformedMessage the returned message has headers but no bodies.
func (n *Normalizer) Normalize(userID string, raw *gmail.Message) (*models.Message, error) {
	if raw == nil || raw.Payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	headers := headerMap(raw.Payload.Headers)
	name, addr := ParseSender(headers["from"])

	msg := &models.Message{
		UserID:            userID,
		ProviderMessageID: raw.Id,
		ThreadID:          raw.ThreadId,
		SenderAddress:     addr,
		SenderName:        name,
		Recipient:         headers["to"],
		Subject:           headers["subject"],
		ReceivedAt:        receivedAt(headers["date"], raw.InternalDate),
		IsRead:            !hasLabel(raw.LabelIds, provider.UnreadLabel),
	}

	plain, html, err := n.extractBodies(raw.Payload)
	if err != nil {
		msg.Malformed = true
		msg.RequiresReply = n.classifier.RequiresReply(msg)
		return msg, err
	}

	msg.PlainBody = plain
	msg.HTMLBody = html
	msg.RequiresReply = n.classifier.RequiresReply(msg)
	return msg, nil
}

type frame struct {
	part  *gmail.MessagePart
	depth int
}

// extractBodies walks the part tree depth-first, left to right, with an explicit stack.
// The first text/plain and first text/html parts win.
func (n *Normalizer) extractBodies(root *gmail.MessagePart) (string, string, error) {
	if len(root.Parts) == 0 {
		// Only a text payload becomes a body; attachments and empty containers yield none
		kind := mimeType(root)
		if kind != "text/plain" && kind != "text/html" {
			return "", "", nil
		}
		data, err := partData(root)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		if kind == "text/html" {
			return "", data, nil
		}
		return data, "", nil
	}

	var plain, html string
	var foundPlain, foundHTML bool

	stack := []frame{{part: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.depth > n.maxDepth {
			return "", "", fmt.Errorf("%w: nesting deeper than %d", ErrMalformedMessage, n.maxDepth)
		}
		if top.part == nil {
			continue
		}

		switch mimeType(top.part) {
		case "text/plain":
			if !foundPlain && len(top.part.Parts) == 0 {
				data, err := partData(top.part)
				if err != nil {
					return "", "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
				}
				plain, foundPlain = data, true
			}
		case "text/html":
			if !foundHTML && len(top.part.Parts) == 0 {
				data, err := partData(top.part)
				if err != nil {
					return "", "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
				}
				html, foundHTML = data, true
			}
		}

		// Push children in reverse so the leftmost is visited first
		for i := len(top.part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, frame{part: top.part.Parts[i], depth: top.depth + 1})
		}
	}

	return plain, html, nil
}

// ParseSender splits a From header into display name and address.
// A value without angle brackets is taken as the address.
func ParseSender(value string) (name, address string) {
	value = strings.TrimSpace(value)
	m := senderRegex.FindStringSubmatch(value)
	if m == nil {
		return "", value
	}
	name = strings.Trim(strings.TrimSpace(m[1]), `"`)
	return name, strings.TrimSpace(m[2])
}

func partData(part *gmail.MessagePart) (string, error) {
	if part.Body == nil || part.Body.Data == "" {
		return "", nil
	}
	data, err := decodeBase64URL(part.Body.Data)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeBase64URL accepts padded and unpadded URL-safe data, then standard alphabet
func decodeBase64URL(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to decode body: %w", lastErr)
}

func mimeType(part *gmail.MessagePart) string {
	mt := strings.ToLower(strings.TrimSpace(part.MimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

func headerMap(headers []*gmail.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		key := strings.ToLower(h.Name)
		if _, ok := m[key]; !ok {
			m[key] = h.Value
		}
	}
	return m
}

func receivedAt(date string, internalDate int64) time.Time {
	if date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			return t.UTC()
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate).UTC()
	}
	return time.Now().UTC()
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
