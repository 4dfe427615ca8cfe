// Package phone parses raw user input into canonical US phone numbers.
package phone

import "strings"

// Number is a 10 digit US phone number without country code.
// The zero value is not a valid number, use Normalize to obtain one.
type Number struct {
	digits string
}

func (n Number) String() string {
	return n.digits
}

// IsZero reports whether n was not produced by Normalize.
func (n Number) IsZero() bool {
	return n.digits == ""
}

// Normalize strips every character that is neither an ASCII digit nor '+'
// and accepts the remainder if it is a plain 10 digit number, a 12 character
// number prefixed with "+1" or an 11 digit number prefixed with "1".
// The country code is dropped. Any other shape is rejected.
func Normalize(raw string) (Number, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	var candidate string
	switch {
	case len(cleaned) == 10:
		candidate = cleaned
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "+1"):
		candidate = cleaned[2:]
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		candidate = cleaned[1:]
	default:
		return Number{}, false
	}

	if !onlyDigits(candidate) {
		return Number{}, false
	}
	return Number{digits: candidate}, true
}

// NormalizeAll normalizes every raw string and returns the accepted numbers
// in input order together with the number of rejected inputs.
func NormalizeAll(raw []string) ([]Number, int) {
	numbers := make([]Number, 0, len(raw))
	rejected := 0
	for _, r := range raw {
		n, ok := Normalize(r)
		if !ok {
			rejected++
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers, rejected
}

func onlyDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
