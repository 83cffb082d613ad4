package logging

import (
	"regexp"
)

const (
	// MaxErrorLength caps error text persisted on a source as last_error.
	MaxErrorLength = 1000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens of any shape, JWTs included
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// Zammad style "Token token=xxx" authorization headers
	zammadTokenPattern = regexp.MustCompile(`(?i)Token\s+token=[^\s,;"]+`)

	// Query-string or form style secrets: access_token=..., client_secret=..., api_key=...
	queryTokenPattern = regexp.MustCompile(`(?i)(access_token|refresh_token|client_secret|api[_-]?key|apikey|key|token)=[^&\s"]{12,}`)

	// JSON encoded secrets: "token": "...", "refresh_token":"..."
	jsonTokenPattern = regexp.MustCompile(`(?i)"(token|access_token|refresh_token|client_secret|secret|password)"\s*:\s*"[^"]*"`)

	// Well-known provider token prefixes
	providerTokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,}|ya29\.[A-Za-z0-9\-_.]+|1//[A-Za-z0-9\-_]{20,})`)

	// Connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError returns the error text with credentials redacted.
// Provider errors often echo request headers or bodies, so this runs before any
// error is logged or persisted.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeText(err.Error())
}

// SanitizeText redacts credentials from arbitrary text.
func SanitizeText(s string) string {
	sanitized := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = zammadTokenPattern.ReplaceAllString(sanitized, "Token token="+RedactedText)
	sanitized = queryTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = jsonTokenPattern.ReplaceAllString(sanitized, `"${1}":"`+RedactedText+`"`)
	sanitized = providerTokenPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeSyncError prepares an error for storage in a source's last_error column.
func SanitizeSyncError(err error) string {
	return TruncateString(SanitizeError(err), MaxErrorLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
