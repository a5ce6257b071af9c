// Package phone normalizes user-entered phone numbers to E.164.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize strips everything but digits and returns the number in E.164
// form. Ten-digit input is treated as NANP and gets a leading 1. The result
// is a fixed point: Normalize(Normalize(p)) == Normalize(p).
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		digits = "1" + digits
	}
	if len(digits) < 10 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	return "+" + digits, nil
}
