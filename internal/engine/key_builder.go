package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
)

// BuildDedupeKey builds the deterministic active-alert lookup key.
// Params: rule name and village after a successful trigger.
// Returns: formatted key in the rule namespace or error on blank inputs.
func BuildDedupeKey(ruleName, village string) (string, error) {
	ruleName = strings.TrimSpace(ruleName)
	if ruleName == "" {
		return "", errors.New("rule name is required")
	}
	village = strings.TrimSpace(village)
	if village == "" {
		return "", errors.New("village is required")
	}

	canonical := "rule=" + strings.ToLower(ruleName) + "\nvillage=" + strings.ToLower(village)
	digest := sha1.Sum([]byte(canonical))
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	ruleToken := sanitize(ruleName)
	villageToken := sanitize(village)
	var builder strings.Builder
	builder.Grow(len("rule/") + len(ruleToken) + len(villageToken) + len(hashValue) + 2)
	builder.WriteString("rule/")
	builder.WriteString(ruleToken)
	builder.WriteByte('/')
	builder.WriteString(villageToken)
	builder.WriteByte('/')
	builder.Write(hashValue[:])
	return builder.String(), nil
}

// sanitize converts key path fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
