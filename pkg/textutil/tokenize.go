// Package textutil holds the text helpers shared by the search index, the
// query grammar and the label cleaning pass.
package textutil

import "strings"

var tokenDelims = []string{
	"=", "-", ",", "?", "!", ";", ":", "//", "/",
	"(", ")", "[", "]", `"`, "&", "' ", " '", ". ",
}

var highlightDelims = []string{
	"=", "-", ".", ",", "?", "!", ";", ":", "//", "/",
	"(", ")", "[", "]", `"`, "&", "*",
}

// Tokenize splits text on the fixed delimiter set and trims one stray
// trailing and one leading '.' or '\'' from each token. Case is preserved.
func Tokenize(text string) []string {
	for _, d := range tokenDelims {
		text = strings.ReplaceAll(text, d, " ")
	}
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, tk := range fields {
		if strings.HasSuffix(tk, ".") || strings.HasSuffix(tk, "'") {
			tk = tk[:len(tk)-1]
		}
		if strings.HasPrefix(tk, ".") || strings.HasPrefix(tk, "'") {
			tk = tk[1:]
		}
		if tk != "" {
			out = append(out, tk)
		}
	}
	return out
}

// HighlightToken is a lower-cased token with its byte offsets in the
// original text.
type HighlightToken struct {
	Token string `json:"token"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// TokenizeForHighlight tokenizes like Tokenize with a wider delimiter set and
// reports where each token sits in text, so callers can rebuild highlighted
// spans. Delimiters are blanked in place, keeping offsets aligned with text.
func TokenizeForHighlight(text string) []HighlightToken {
	s := text
	for _, d := range highlightDelims {
		s = strings.ReplaceAll(s, d, strings.Repeat(" ", len(d)))
	}
	var out []HighlightToken
	i, n := 0, len(s)
	for i < n {
		if isSpace(s[i]) {
			i++
			continue
		}
		start := i
		for i < n && !isSpace(s[i]) {
			i++
		}
		out = append(out, HighlightToken{Token: strings.ToLower(s[start:i]), Start: start, End: i})
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// IsQuoted reports whether term is wrapped in double quotes, which forces
// literal free-form matching.
func IsQuoted(term string) bool {
	return len(term) > 1 && strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`)
}
