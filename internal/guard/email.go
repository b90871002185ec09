package guard

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CleanEmail returns the lower-cased address, or "" if it does not look like
// an email address.
func CleanEmail(value string) string {
	candidate := strings.ToLower(CleanText(value))
	if candidate == "" {
		return ""
	}
	if err := validate.Var(candidate, "required,email"); err != nil {
		return ""
	}
	at := strings.LastIndexByte(candidate, '@')
	if at < 1 || !strings.Contains(candidate[at+1:], ".") {
		return ""
	}
	return candidate
}
