package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var secretKeys = map[string]struct{}{
	"password":   {},
	"jwtsecret":  {},
	"privatekey": {},
	"mnemonic":   {},
	"authtoken":  {},
	"rpcuser":    {},
}

// IsSecret reports whether a log key names wallet secret material.
func IsSecret(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := secretKeys[normalized]
	return ok
}

// MaskField returns a slog.Attr whose value is replaced with the redaction
// placeholder when the key names secret material. Empty values pass through
// unchanged so absent config reads as absent.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSecret(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
