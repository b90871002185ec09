package guard

import (
	"strings"
	"unicode"
)

// NormalizeIdentifier canonicalizes a student code: trimmed, upper-cased,
// without the ".0" spreadsheets append to numbers, and without separators
// when what remains is purely numeric ("1.234.567" becomes "1234567").
func NormalizeIdentifier(value string) string {
	id := strings.ToUpper(CleanText(value))
	id = strings.TrimSuffix(id, ".0")
	if id == "" {
		return ""
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
	if digits != "" && isDigits(digits) {
		return digits
	}
	return id
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
