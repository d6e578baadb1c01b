package carrier

import (
	"errors"
	"strings"
)

var ErrEmptyPhone = errors.New("phone number has no digits")

// NormalizePhone formats a Turkish phone number as +90XXXXXXXXXX. Non-digits
// are stripped; a leading 90 is kept, a leading 0 is replaced and anything
// else is prefixed.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return "", ErrEmptyPhone
	case strings.HasPrefix(digits, "90"):
		return "+" + digits, nil
	case strings.HasPrefix(digits, "0"):
		return "+90" + digits[1:], nil
	default:
		return "+90" + digits, nil
	}
}
