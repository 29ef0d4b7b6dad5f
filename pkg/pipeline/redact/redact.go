package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Header dumps from transports and proxies, e.g. "X-Api-Key: abc".
	apiKeyHeaderRe = regexp.MustCompile(`(?i)\bx-api-key\b\s*[:=]\s*[^\s"',]+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|apollo[_-]?api[_-]?key)\b"?\s*[:=]\s*"?[^\s"',}]+"?`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyHeaderRe.ReplaceAllString(out, "X-Api-Key: <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
