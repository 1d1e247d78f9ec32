package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var stripPolicy = bluemonday.StripTagsPolicy()

// MakeWebSafe strips markup, angle brackets and control characters from a
// table value so it can be rendered verbatim by any presentation layer.
// Entities are decoded, so "A &amp; B" becomes "A & B".
func MakeWebSafe(s string) string {
	if s == "" {
		return s
	}
	if strings.ContainsAny(s, "<>&") {
		s = html.UnescapeString(stripPolicy.Sanitize(s))
		s = strings.NewReplacer("<", "", ">", "").Replace(s)
	}
	if strings.IndexFunc(s, unprintable) >= 0 {
		s = strings.Map(func(r rune) rune {
			if unprintable(r) {
				return ' '
			}
			return r
		}, s)
		s = collapseWhitespace(s)
	}
	return s
}

func unprintable(r rune) bool {
	if unicode.Is(unicode.Cc, r) {
		return true
	}
	// variation selectors, surrogates, private use
	return (r >= 0xFE00 && r <= 0xFE0F) ||
		(r >= 0xD800 && r <= 0xDFFF) ||
		(r >= 0xE000 && r <= 0xF8FF) ||
		r >= 0xF0000
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
