package main

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNickLength = 16

// canonicalizeChannel converts a channel name to its canonical
// representation, which must be unique. Channel names are
// case-insensitive by ASCII folding; the display form keeps the case of
// the first JOIN.
func canonicalizeChannel(c string) string {
	return foldASCII(c)
}

// foldASCII lower-cases ASCII letters only. Used for channel names and
// command names, where the fast path is enough.
func foldASCII(s string) string {
	fold := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	return strings.Map(fold, s)
}

// cureTransform collapses visually confusable nickname variations:
// compatibility decomposition, then stripping combining marks, so that
// e.g. "tėst" and "test" cure to the same form.
var cureTransform = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// cureNick folds a nickname to the canonical form used for uniqueness
// checks. Curing is never used for display.
func cureNick(n string) string {
	cured, _, err := transform.String(cureTransform, n)
	if err != nil {
		// Transform only fails on invalid input; fall back to the raw
		// nick so uniqueness still holds among equally broken nicks.
		cured = n
	}
	return strings.ToLower(cured)
}

// isValidNick checks if a nickname is acceptable: 1 to 16 bytes, first
// character ASCII alphanumeric or underscore.
func isValidNick(n string) bool {
	if len(n) == 0 || len(n) > maxNickLength {
		return false
	}

	first := n[0]
	switch {
	case first >= 'a' && first <= 'z':
	case first >= 'A' && first <= 'Z':
	case first >= '0' && first <= '9':
	case first == '_':
	default:
		return false
	}

	return true
}

// isValidChannel checks a channel name for validity: non-empty and
// starting with '#'.
func isValidChannel(c string) bool {
	return len(c) > 0 && c[0] == '#'
}
