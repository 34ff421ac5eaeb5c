// Package phone folds raw phone number strings into their canonical dialable
// form. Both the dispatch loop and the inbound webhook normalize through here
// so the same customer is recognized on both sides of a conversation.
package phone

import (
	"strings"

	"github.com/rsharma-dev/wabulk/internal/model"
)

const countryCode = "91"

// Normalize maps a raw number to its canonical form. It is pure, total and
// idempotent: formatting punctuation and whitespace are stripped, a bare
// 10-digit subscriber number gets the country code prefixed, and a national
// leading zero is folded into the country code. Input with no digits yields
// model.InvalidNumber instead of an error.
func Normalize(raw string) model.CanonicalNumber {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return model.InvalidNumber
	case len(digits) == 10:
		return model.CanonicalNumber(countryCode + digits)
	case len(digits) == 11 && digits[0] == '0':
		return model.CanonicalNumber(countryCode + digits[1:])
	default:
		// Already carries a country code (or is some other long form);
		// keeping it digit-only is what makes Normalize idempotent.
		return model.CanonicalNumber(digits)
	}
}
