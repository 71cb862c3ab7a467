package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRegex   = regexp.MustCompile(`[\t\f\r\v\p{Zs}]+`)
	newlineRegex = regexp.MustCompile(`\n{3,}`)

	// Zero-width and other invisible characters used as email preheader padding
	invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}]+`)
)

// HTMLToText renders an HTML email body as plain text for prompts
func HTMLToText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link, title").Remove()

	// Quoted history would leak earlier messages into the prompt
	doc.Find("blockquote, .gmail_quote").Remove()

	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n- ")
	})
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return Clean(doc.Text()), nil
}

// Clean collapses whitespace while keeping paragraph breaks
func Clean(text string) string {
	text = invisibleRegex.ReplaceAllString(text, "")
	text = spaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(kept) > 0 {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, line)
	}

	text = strings.Join(kept, "\n")
	text = newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
