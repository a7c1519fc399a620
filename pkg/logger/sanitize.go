package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// Mask username: keep first char, mask rest
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		// Mask all but the TLD
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// sensitiveQueryParams are parameter names whose values must never reach logs
var sensitiveQueryParams = []string{
	"password", "token", "secret", "api_key", "apikey", "email",
	"auth", "csrf", "code", "otp", "session",
}

// SanitizeQueryString reports whether a query string carries a sensitive
// parameter and should be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable queries are redacted rather than logged raw
		return true
	}

	for name := range values {
		lower := strings.ToLower(name)
		for _, sensitive := range sensitiveQueryParams {
			if strings.Contains(lower, sensitive) {
				return true
			}
		}
	}
	return false
}
