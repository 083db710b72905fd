package util

import (
	"regexp"
	"strings"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// IsValidUserID accepts the id vocabulary safe for app names and file paths.
func IsValidUserID(s string) bool {
	return userIDRegex.MatchString(s)
}

// NormalizePhone strips everything except digits. "+1 (202) 555-1234"
// becomes "12025551234".
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone keeps the country-code prefix and the last two digits for logs.
func MaskPhone(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
