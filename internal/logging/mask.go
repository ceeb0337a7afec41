package logging

import "strings"

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(phone string) string {
	return maskLast4(strings.TrimSpace(phone))
}

func maskLast4(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
