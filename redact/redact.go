// Package redact rewrites user text to remove credentials and PII before it
// is persisted or forwarded to a provider. Rewrites are deterministic and
// idempotent on their own output.
package redact

import (
	"regexp"
	"strings"
)

// rule is a single detection pattern. Evaluation order is significant:
// vendor-specific rules run before generic ones so a vendor key is labeled
// precisely rather than swallowed by a catch-all.
type rule struct {
	tag  string
	re   *regexp.Regexp
	repl string
	// replFn overrides repl when the replacement needs to inspect the match.
	replFn func(match string) string
}

var rules = []rule{
	{
		// Anthropic keys must be checked before the generic sk- rule.
		tag:  "anthropic_key",
		re:   regexp.MustCompile(`(?im)\bsk-ant-(?:api\d+-)?[a-zA-Z0-9\-_]{20,}\b`),
		repl: "[ANTHROPIC_KEY_REDACTED]",
	},
	{
		tag: "openai_key",
		re:  regexp.MustCompile(`(?im)\bsk-(?:proj-|svcacct-)?[a-zA-Z0-9\-_]{20,}\b`),
		replFn: func(match string) string {
			// Anthropic keys also start with sk-; leave them for the rule above.
			if strings.HasPrefix(strings.ToLower(match), "sk-ant-") {
				return match
			}
			return "[OPENAI_KEY_REDACTED]"
		},
	},
	{
		tag:  "google_api_key",
		re:   regexp.MustCompile(`(?im)\bAIza[a-zA-Z0-9\-_]{35}\b`),
		repl: "[GOOGLE_KEY_REDACTED]",
	},
	{
		tag:  "aws_access_key",
		re:   regexp.MustCompile(`(?im)\bAKIA[0-9A-Z]{16}\b`),
		repl: "[AWS_ACCESS_KEY_REDACTED]",
	},
	{
		tag:  "aws_secret_key",
		re:   regexp.MustCompile(`(?im)(aws_secret_access_key["']?\s*[:=]\s*["']?)([a-zA-Z0-9/+=]{40})(["']?)`),
		repl: "${1}[AWS_SECRET_REDACTED]${3}",
	},
	{
		tag:  "github_token",
		re:   regexp.MustCompile(`(?im)\bgh[psro]_[a-zA-Z0-9]{36,}\b`),
		repl: "[GITHUB_TOKEN_REDACTED]",
	},
	{
		tag:  "xai_key",
		re:   regexp.MustCompile(`(?im)\bxai-[a-zA-Z0-9\-_]{20,}\b`),
		repl: "[XAI_KEY_REDACTED]",
	},
	{
		tag:  "generic_api_key",
		re:   regexp.MustCompile(`(?im)(api[_-]?key\s*[:=]\s*["']?)([a-zA-Z0-9\-_]{20,})(["']?)`),
		repl: "${1}[API_KEY_REDACTED]${3}",
	},
	{
		tag:  "bearer_token",
		re:   regexp.MustCompile(`(?im)(\bbearer\s+)([a-zA-Z0-9\-_.]{20,})\b`),
		repl: "${1}[TOKEN_REDACTED]",
	},
	{
		tag:  "jwt_token",
		re:   regexp.MustCompile(`(?im)\beyJ[a-zA-Z0-9\-_=]+\.eyJ[a-zA-Z0-9\-_=]+\.[a-zA-Z0-9\-_=]+\b`),
		repl: "[JWT_REDACTED]",
	},
	{
		tag:  "private_key",
		re:   regexp.MustCompile(`(?i)-----BEGIN (?:RSA |EC |DSA |ED25519 |OPENSSH |ENCRYPTED )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |ED25519 |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`),
		repl: "[PRIVATE_KEY_REDACTED]",
	},
	{
		tag:  "db_connection",
		re:   regexp.MustCompile(`(?im)((?:postgres(?:ql)?|mysql|mariadb|mongodb(?:\+srv)?|redis|mssql|sqlserver)://[^:]+:)([^@]+)(@[^\s]+)`),
		repl: "${1}[PASSWORD_REDACTED]${3}",
	},
	{
		tag:  "password_assignment",
		re:   regexp.MustCompile(`(?im)((?:password|passwd|pwd)\s*[:=]\s*["']?)([^\s"']{6,})(["']?)`),
		repl: "${1}[PASSWORD_REDACTED]${3}",
	},
	{
		tag:  "password_phrase",
		re:   regexp.MustCompile(`(?im)((?:my |the )?password is\s+)(\S{6,})`),
		repl: "${1}[PASSWORD_REDACTED]",
	},
	{
		tag:  "credit_card",
		re:   regexp.MustCompile(`(?im)\b[3-6]\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
		repl: "[CARD_REDACTED]",
	},
	{
		tag:  "ssn",
		re:   regexp.MustCompile(`(?im)\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
		repl: "[SSN_REDACTED]",
	},
	{
		tag:  "sa_id_number",
		re:   regexp.MustCompile(`(?im)((?:identity\s*(?:number|no)|id\s*(?:number|no))\s*:\s*)(\d{13})\b`),
		repl: "${1}[ID_REDACTED]",
	},
	{
		tag:  "url_with_password",
		re:   regexp.MustCompile(`(?im)(https?://[a-zA-Z0-9._-]+:)([^@\s]+)(@\S+)`),
		repl: "${1}[PASSWORD_REDACTED]${3}",
	},
	{
		tag:  "secret_assignment",
		re:   regexp.MustCompile(`(?im)((?:secret|client_secret|app_secret|api_secret)\s*[:=]\s*["'])([a-zA-Z0-9\-_]{16,})(["'])`),
		repl: "${1}[SECRET_REDACTED]${3}",
	},
	{
		tag:  "env_secret",
		re:   regexp.MustCompile(`(?im)([A-Z_]*(?:SECRET|TOKEN|PASSWORD|API_KEY)[A-Z_]*\s*=\s*["']?)([a-zA-Z0-9\-_/+=]{16,})(["']?)`),
		repl: "${1}[REDACTED]${3}",
	},
}

// Filter rewrites text with all sensitive matches replaced by fixed
// placeholders. The output is safe to log.
func Filter(text string) string {
	if text == "" {
		return text
	}
	for _, r := range rules {
		text = r.apply(text)
	}
	return text
}

// HasSensitive reports whether text contains any sensitive match without
// modifying it.
func HasSensitive(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range rules {
		if r.matches(text) {
			return true
		}
	}
	return false
}

// Detected returns the tags of all matched rules in evaluation order.
func Detected(text string) []string {
	if text == "" {
		return nil
	}
	var tags []string
	for _, r := range rules {
		if r.matches(text) {
			tags = append(tags, r.tag)
		}
	}
	return tags
}

func (r rule) apply(text string) string {
	if r.replFn != nil {
		return r.re.ReplaceAllStringFunc(text, r.replFn)
	}
	return r.re.ReplaceAllString(text, r.repl)
}

func (r rule) matches(text string) bool {
	if r.replFn == nil {
		return r.re.MatchString(text)
	}
	for _, m := range r.re.FindAllString(text, -1) {
		if r.replFn(m) != m {
			return true
		}
	}
	return false
}
