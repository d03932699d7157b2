package sanitize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var zeroWidth = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u2060': true, // word joiner
	'\uFEFF': true, // byte order mark
	'\u00AD': true, // soft hyphen
	'\u180E': true, // mongolian vowel separator
}

var confusables = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x', 'і': 'i', 'ѕ': 's',
	// Greek
	'α': 'a', 'ο': 'o', 'ε': 'e', 'ι': 'i', 'κ': 'k', 'ν': 'v', 'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x',
	// Latin lookalikes
	'ı': 'i', 'ℓ': 'l',
}

// Normalize folds s into the form patterns are matched against: invisible
// code points removed, NFKC applied (fullwidth forms fold to ASCII),
// lowercased, and common Cyrillic and Greek lookalikes mapped to Latin.
func Normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if zeroWidth[r] {
			return -1
		}
		return r
	}, s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if c, ok := confusables[r]; ok {
			return c
		}
		return r
	}, s)
}
