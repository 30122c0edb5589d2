package executor

import (
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// asHTML wraps plain-text content into a minimal HTML document so the
// tracking pixel has a body to land in. Content that already looks like
// HTML passes through untouched.
func asHTML(content string) string {
	if strings.Contains(content, "<html") || strings.Contains(content, "<body") {
		return content
	}
	body := strings.ReplaceAll(content, "\n", "<br/>\n")
	return "<html><body>" + body + "</body></html>"
}

// htmlToText produces the plain-text alternative part: tags stripped,
// entities left alone, whitespace collapsed at line level.
func htmlToText(content string) string {
	text := tagRe.ReplaceAllString(content, "")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
