// Package messaging is the SMS transport: sender identity normalization,
// inbound webhook parsing and outbound delivery.
package messaging

import "strings"

// NormalizeSender reduces a phone number to its digits. The result is the
// sender identity used for buffering, locking and sessions.
func NormalizeSender(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := NormalizeSender(strings.TrimSpace(value))
	if digits == "" {
		return ""
	}
	return "+" + digits
}
