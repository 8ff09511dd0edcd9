// Package matcher scores catalog releases against local albums and queries.
package matcher

import (
	"regexp"
	"strings"

	"github.com/rainycape/unidecode"
	"golang.org/x/text/cases"
)

var (
	bracketSuffix = regexp.MustCompile(`\s*[\(\[][^\(\)\[\]]*[\)\]]\s*$`)
	punctuation   = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Normalize folds s into the form used for comparisons and lookups:
// transliterated, case folded, "&" spelled out, trailing bracketed
// qualifiers such as "(Deluxe Edition)" removed, punctuation dropped,
// whitespace collapsed and a leading "the" removed.
func Normalize(s string) string {
	s = unidecode.Unidecode(s)
	s = cases.Fold().String(s)
	s = strings.ReplaceAll(s, "&", " and ")

	for {
		stripped := bracketSuffix.ReplaceAllString(s, "")
		if stripped == s || strings.TrimSpace(stripped) == "" {
			break
		}
		s = stripped
	}

	s = punctuation.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if rest, ok := strings.CutPrefix(s, "the "); ok {
		s = rest
	}
	return s
}

// Words returns the normalized words of s longer than minLen runes.
func Words(s string, minLen int) []string {
	var out []string
	for _, w := range strings.Fields(Normalize(s)) {
		if len([]rune(w)) > minLen {
			out = append(out, w)
		}
	}
	return out
}
