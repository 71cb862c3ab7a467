package normalizer

import (
	"regexp"
	"strings"

	"github.com/mixelka/replydesk/pkg/models"
)

// Classifier decides whether a message needs a reply
type Classifier interface {
	RequiresReply(msg *models.Message) bool
}

// ReplyAll marks every message as requiring a reply
type ReplyAll struct{}

// RequiresReply always returns true
func (ReplyAll) RequiresReply(*models.Message) bool { return true }

// AutomatedSenderClassifier skips messages that look machine generated
type AutomatedSenderClassifier struct {
	patterns []*senderPattern
}

type senderPattern struct {
	Field string // "address", "name" or "subject"
	Regex *regexp.Regexp
}

// NewAutomatedSenderClassifier creates a classifier with the built-in patterns
func NewAutomatedSenderClassifier() *AutomatedSenderClassifier {
	return &AutomatedSenderClassifier{
		patterns: []*senderPattern{
			// no-reply style mailboxes
			{
				Field: "address",
				Regex: regexp.MustCompile(`(?i)^(?:no[-_.]?reply|do[-_.]?not[-_.]?reply|donotreply)[^@]*@`),
			},
			// Bounce and system mailboxes
			{
				Field: "address",
				Regex: regexp.MustCompile(`(?i)^(?:mailer-daemon|postmaster|bounces?|notifications?)[^@]*@`),
			},
			{
				Field: "name",
				Regex: regexp.MustCompile(`(?i)\bmail delivery (?:subsystem|system)\b`),
			},
			// Delivery status and out of office
			{
				Field: "subject",
				Regex: regexp.MustCompile(`(?i)^(?:undeliverable|delivery status notification|auto[- ]?reply|automatic reply|out of office)\b`),
			},
		},
	}
}

// RequiresReply returns false when any pattern matches
func (c *AutomatedSenderClassifier) RequiresReply(msg *models.Message) bool {
	for _, p := range c.patterns {
		var value string
		switch p.Field {
		case "address":
			value = msg.SenderAddress
		case "name":
			value = msg.SenderName
		case "subject":
			value = msg.Subject
		}
		if p.Regex.MatchString(strings.TrimSpace(value)) {
			return false
		}
	}
	return true
}
