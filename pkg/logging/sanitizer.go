// Package logging keeps secrets out of log output. The service handles
// three kinds of credentials: Postgres passwords, the embeddings API key,
// and per-connection CRM API keys.
package logging

import "regexp"

// Redacted replaces any secret value in sanitized output.
const Redacted = "[REDACTED]"

var (
	// password=..., pwd=... in key-value DSNs, up to the next separator.
	// pgx quotes the whole DSN in backticks when a connect fails, so the
	// closing backtick must end the value too.
	dsnPassword = regexp.MustCompile("(?i)(password|pwd|pass)=[^;&\\s`]+")

	// user:secret@host in URL-style DSNs. Greedy through the last @ so
	// passwords containing @ stay covered.
	urlUserinfo = regexp.MustCompile(`://[^/\s]+@`)

	// api_key / apiKey query or form parameters with key-shaped values.
	apiKeyParam = regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[\w-]{8,}`)

	// Authorization header material quoted back by HTTP client errors.
	authHeader = regexp.MustCompile(`(?i)(basic|bearer)\s+[\w+/=.-]+`)
)

// SanitizeConnectionString redacts credentials from a Postgres DSN in
// either key-value or URL form. Safe to call on an empty string.
func SanitizeConnectionString(dsn string) string {
	s := dsnPassword.ReplaceAllString(dsn, "${1}="+Redacted)
	return urlUserinfo.ReplaceAllString(s, "://"+Redacted+"@")
}

// SanitizeError renders an error for logging with any embedded
// credentials redacted. pgx connect errors echo the full DSN and HTTP
// client errors can echo request URLs, so errors from those layers must
// pass through here before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	s := SanitizeConnectionString(err.Error())
	s = apiKeyParam.ReplaceAllString(s, "${1}="+Redacted)
	return authHeader.ReplaceAllString(s, "${1} "+Redacted)
}
