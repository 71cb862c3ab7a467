package reply

import (
	"fmt"
	"strings"

	"github.com/mixelka/replydesk/internal/parser"
	"github.com/mixelka/replydesk/pkg/models"
)

// MaxHistory is the number of past pairs shown to the model
const MaxHistory = 3

// maxBodyRunes caps each body quoted in the prompt
const maxBodyRunes = 8000

// SystemPrompt is the fixed instruction sent with every request
const SystemPrompt = "You are an AI assistant that helps write email replies in the user's style. " +
	"Your responses should be professional, concise, and address all points in the original email."

const instructions = "Please write a professional and friendly response that addresses the points in the email. \n" +
	"Keep the tone consistent with my previous responses if provided.\n" +
	"The response should be concise but thorough, and should maintain a professional tone."

// BuildPrompt assembles the user message for a target and its history.
// The examples block is omitted when history is empty.
func BuildPrompt(msg *models.Message, history []models.HistoricalPair) string {
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}

	var sb strings.Builder
	sb.WriteString("You are an AI assistant that helps me write email replies. Please write a draft reply to the following email:\n\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", SenderLabel(msg)))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	sb.WriteString(fmt.Sprintf("Email Content: %s\n\n", truncate(Body(msg), maxBodyRunes)))

	if len(history) > 0 {
		sb.WriteString("Here are some examples of my previous email responses:\n\n")
		for _, pair := range history {
			sb.WriteString(fmt.Sprintf("Subject: %s\n", pair.Subject))
			sb.WriteString(fmt.Sprintf("Content: %s\n", truncate(pair.Body, maxBodyRunes)))
			sb.WriteString(fmt.Sprintf("My response: %s\n\n", truncate(pair.Reply, maxBodyRunes)))
		}
	}

	sb.WriteString(instructions)
	return sb.String()
}

// SenderLabel names the sender for the prompt
func SenderLabel(msg *models.Message) string {
	switch {
	case strings.TrimSpace(msg.SenderName) != "":
		return msg.SenderName
	case strings.TrimSpace(msg.SenderAddress) != "":
		return msg.SenderAddress
	default:
		return "Sender"
	}
}

// Body returns the plain body, falling back to text rendered from HTML
func Body(msg *models.Message) string {
	if strings.TrimSpace(msg.PlainBody) != "" || msg.HTMLBody == "" {
		return msg.PlainBody
	}
	text, err := parser.HTMLToText(msg.HTMLBody)
	if err != nil {
		return ""
	}
	return text
}

// truncate truncates text to maxLen characters
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "\n[...]"
}
