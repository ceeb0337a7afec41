// Package phone normalises Kenyan mobile numbers to the 254XXXXXXXXX form.
package phone

import (
	"strings"
	"unicode"
)

const (
	CountryCode = "254"
	// NormalizedLength is the digit count of a full 254XXXXXXXXX number.
	NormalizedLength = 12
)

// Normalize strips every non-digit and rewrites local forms (07..., 01..., 7..., 1...)
// to the 254 prefix. Inputs that match none of those forms are returned as bare digits.
func Normalize(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r <= unicode.MaxASCII {
			return r
		}
		return -1
	}, input)

	switch {
	case strings.HasPrefix(cleaned, CountryCode):
		return cleaned
	case strings.HasPrefix(cleaned, "0"):
		return CountryCode + cleaned[1:]
	case strings.HasPrefix(cleaned, "7"), strings.HasPrefix(cleaned, "1"):
		return CountryCode + cleaned
	default:
		return cleaned
	}
}

// Valid reports whether a normalised number is long enough to be dialled.
func Valid(normalized string) bool {
	return strings.HasPrefix(normalized, CountryCode) && len(normalized) >= NormalizedLength
}

// WithCountryCode is the relay-side guard: it normalises the number and prefixes
// 254 when the result still lacks it.
func WithCountryCode(input string) string {
	normalized := Normalize(input)
	if normalized == "" || strings.HasPrefix(normalized, CountryCode) {
		return normalized
	}
	return CountryCode + normalized
}
