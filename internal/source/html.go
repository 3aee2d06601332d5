package source

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	whitespaceRe = regexp.MustCompile(`[\s\p{Z}]+`)
)

// HTMLToText strips markup from an HTML body, dropping script and style
// content, and collapses whitespace to single spaces.
func HTMLToText(body string) string {
	if body == "" {
		return ""
	}
	// Tags separate words: <p>a</p><p>b</p> reads as "a b".
	spaced := strings.ReplaceAll(body, "<", " <")
	text := html.UnescapeString(strictPolicy.Sanitize(spaced))
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
