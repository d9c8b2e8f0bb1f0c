package logger

import "strings"

// Log sanitization helpers. The audit trail stores real identifiers; the
// request log must not.

// SanitizedEmail masks an address down to its shape: first rune of the local
// part, masked domain labels, TLD intact ("u***@*******.com").
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "[invalid-email]"
	}

	masked := local[:1]
	if len(local) > 1 {
		masked += strings.Repeat("*", len(local)-1)
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return masked + "@" + strings.Join(labels, ".")
}

// SanitizedPhone keeps only the last four digits.
func SanitizedPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// sensitiveParams flag a query string for wholesale redaction. Substring
// match on purpose: "recovery_code", "auth_token" etc. all hit.
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"marker",
	"code",
	"recovery",
	"auth",
	"phone",
	"email",
}

// SanitizeQueryString reports whether the raw query carries anything that
// must not reach the request log.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
