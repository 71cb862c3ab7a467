package reply

import (
	"html"
	"strings"
)

// HTMLFromPlain wraps plain text in a paragraph with line breaks.
// The text is escaped, so markup typed by the user is shown literally.
func HTMLFromPlain(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

// Subject prefixes the original subject with "Re: " once
func Subject(original string) string {
	trimmed := strings.TrimSpace(original)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
