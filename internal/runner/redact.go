package runner

import "regexp"

// Subprocess output can carry provider credentials (terraform echoes
// variables, the aws CLI prints request context on errors). Known-sensitive
// patterns are masked before output is returned to API clients; full output
// still reaches the structured log and run history for operators.
var redactPatterns = []*regexp.Regexp{
	// AWS access key IDs.
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	// key = value style assignments for sensitive names.
	regexp.MustCompile(`(?i)\b(aws_secret_access_key|aws_session_token|password|passwd|secret|token|api_key|apikey|access_key)\b(\s*[=:]\s*)\S+`),
	// Authorization headers in dumped requests.
	regexp.MustCompile(`(?i)\b(authorization)(\s*:\s*)(?:bearer\s+)?\S+`),
}

// Redact masks known credential patterns in s.
func Redact(s string) string {
	out := redactPatterns[0].ReplaceAllString(s, "[REDACTED]")
	out = redactPatterns[1].ReplaceAllString(out, "$1$2[REDACTED]")
	out = redactPatterns[2].ReplaceAllString(out, "$1$2[REDACTED]")
	return out
}
