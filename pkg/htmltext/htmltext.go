package htmltext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRegex = regexp.MustCompile(`[^\S\n]+`)
	newlineRegex    = regexp.MustCompile(`\n{3,}`)
	markdownRegex   = regexp.MustCompile("[*_`#]+")
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
)

// Convert strips an HTML email body down to plain text suitable for the
// classifier prompt. The body is untrusted third-party content, so
// scripts, styles and markup are removed outright.
func Convert(html string) string {
	if html == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Fall back to a crude tag strip rather than sending raw HTML.
		return strings.TrimSpace(tagRegex.ReplaceAllString(html, " "))
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Add newlines before block elements so text doesn't run together
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = whitespaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")
	text = newlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Truncate caps text at max runes, appending an ellipsis when cut.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// EnforcePlainText strips markdown and HTML markup from model-generated
// reply content so drafts never carry spoofable formatting or links.
func EnforcePlainText(text string) string {
	text = tagRegex.ReplaceAllString(text, "")
	// Rewrite markdown links [text](url) as "text (url)"
	linkRe := regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	text = linkRe.ReplaceAllString(text, "$1 ($2)")
	text = markdownRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
