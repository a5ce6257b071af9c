package util

import (
	"html"
	"os"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters before
// user-supplied text reaches logs or stored templates.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// MaskPhone hides all but the last four digits of a phone number so full
// numbers never land in log output.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// GetEnv is shared by clients that read optional env overrides directly.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
