// Package guard holds the pure value-cleaning functions applied to raw cells.
package guard

import (
	"strings"
	"unicode"

	"github.com/guregu/null/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanText trims surrounding whitespace, removes control characters and
// collapses internal runs of whitespace.
func CleanText(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, value)
	return strings.Join(strings.Fields(cleaned), " ")
}

// CleanCell is CleanText for nullable cells. Null yields "".
func CleanCell(value null.String) string {
	if !value.Valid {
		return ""
	}
	return CleanText(value.String)
}

// Fold lower-cases value and strips diacritics so "Código" matches "codigo".
func Fold(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(CleanText(folded))
}
