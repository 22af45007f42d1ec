package logger

import "strings"

// SanitizedEmail masks an email address for log lines so that operational
// logs never become an account directory (e.g. "u***@e******.com").
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local := email[:at]
	domain := email[at+1:]

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	// Keep the TLD readable, mask the rest of the domain.
	if dot := strings.LastIndex(domain, "."); dot > 0 {
		domain = strings.Repeat("*", dot) + domain[dot:]
	}

	return local + "@" + domain
}

// sensitiveParams are query-parameter substrings that mean the whole query
// string must be dropped from request logs. Session tokens ride in the token
// query parameter on GET downloads, and 2FA material must never be logged.
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"email",
	"backup",
}

// SanitizeQueryString reports whether a raw query string contains sensitive
// parameters and must be redacted wholesale from request logs.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
