// Package price turns the raw price text of a product record into a number.
// The extraction pipeline never calls it; it serves callers that want an
// amount alongside the verbatim text.
package price

import (
	"strconv"
	"strings"
)

// ParseAmount keeps only digits, dots and commas, turns the first comma into a
// dot, and parses the longest leading decimal number. "19,99 €" yields 19.99
// and "1.299,99" yields 1.299. ok is false when no number can be read.
func ParseAmount(raw string) (amount float64, ok bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Replace(b.String(), ",", ".", 1)

	prefix := leadingDecimal(cleaned)
	if prefix == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// leadingDecimal returns the longest prefix of s shaped like digits with at
// most one dot, holding at least one digit.
func leadingDecimal(s string) string {
	end, digits, dot := 0, 0, false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		default:
			return trimDot(s[:i], digits)
		}
		end = i + 1
	}
	return trimDot(s[:end], digits)
}

func trimDot(s string, digits int) string {
	if digits == 0 {
		return ""
	}
	return s
}
