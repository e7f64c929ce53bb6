/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package privacy enforces the platform's caller-data rules. No network
// address, geolocation, raw phone number, or other caller-side identifier
// may ever reach persistent storage. Everything written to the audit log
// passes through SanitizePayload; identifiers are stored only as salted
// hashes produced by Fingerprint and HashActor.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Replacement values for pattern-matched data.
const (
	phonePlaceholder = "XXX-XXX-XXXX"
	emailPlaceholder = "user@domain.com"
)

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// Patterns for data that must never be persisted. Order matters: SSNs and
// PANs are matched before the broader phone form so the narrower rule wins.
var sensitivePatterns = []pattern{
	// IPv4
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED_IP]"},
	// IPv6 (at least three colon-separated groups, so clock times survive)
	{regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){3,7}[0-9a-fA-F]{0,4}\b`), "[REDACTED_IP]"},
	// SSN
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	// Credit card PAN (13-19 digits, optional separators)
	{regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), "[REDACTED_PAN]"},
	// Phone numbers (E.164 and common US formats)
	{regexp.MustCompile(`(?:\+?\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`), phonePlaceholder},
	// Emails
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), emailPlaceholder},
	// Decimal coordinate pairs (lat, lon)
	{regexp.MustCompile(`-?\d{1,3}\.\d{3,},\s*-?\d{1,3}\.\d{3,}`), "[REDACTED_COORDS]"},
}

// Key names whose values are stripped regardless of content.
var forbiddenKeyFragments = []string{
	"latitude", "longitude", "lat", "lng", "coordinates", "geolocation",
	"location", "address", "city", "state", "country", "zip", "postal",
	"gps", "position", "ip", "addr",
}

// redactionForKey picks the placeholder for a key-name strip.
func redactionForKey(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "ip") || strings.Contains(lower, "addr"):
		return "[REDACTED_IP]"
	case strings.Contains(lower, "lat") || strings.Contains(lower, "lng") ||
		strings.Contains(lower, "coord") || strings.Contains(lower, "gps") ||
		strings.Contains(lower, "position") || strings.Contains(lower, "geo"):
		return "[REDACTED_GEO]"
	default:
		return "[REDACTED_LOCATION]"
	}
}

// isForbiddenKey reports whether a payload key must have its value stripped.
func isForbiddenKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range forbiddenKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// SanitizeText scrubs sensitive patterns from free text.
func SanitizeText(text string) string {
	result := text
	for _, p := range sensitivePatterns {
		result = p.re.ReplaceAllString(result, p.replacement)
	}
	return result
}

// SanitizePayload returns a deep copy of payload with forbidden keys
// stripped and string values scrubbed. Nested maps and slices are handled;
// non-string scalars pass through.
func SanitizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isForbiddenKey(k) {
			out[k] = redactionForKey(k)
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeText(val)
	case map[string]any:
		return SanitizePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// Scan reports whether text still contains a forbidden pattern. Used as the
// post-sanitization gate: a payload that scans dirty is rejected outright.
func Scan(text string) bool {
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Hasher produces salted one-way hashes for caller and actor identifiers.
type Hasher struct {
	salt []byte
}

// NewHasher creates a hasher with the given salt. The salt comes from
// configuration and is a startup secret.
func NewHasher(salt []byte) *Hasher {
	return &Hasher{salt: salt}
}

// Fingerprint hashes a normalized phone number. The raw number may be held
// in process memory for the duration of a call but never persisted; this is
// the only caller identifier allowed in storage.
func (h *Hasher) Fingerprint(rawNumber string) string {
	return h.hash("caller|" + NormalizeNumber(rawNumber))
}

// HashActor hashes a user or session identifier for audit storage.
func (h *Hasher) HashActor(id string) string {
	return h.hash("actor|" + id)
}

func (h *Hasher) hash(input string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeNumber reduces a phone number to digits with a leading +.
// "+1 (555) 123-4567" and "15551234567" normalize identically.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	// Assume NANP when 10 digits arrive without a country code.
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return fmt.Sprintf("+%s", digits)
}
