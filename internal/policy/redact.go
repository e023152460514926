package policy

import (
	"regexp"
	"strings"
)

// secretPatterns is the built-in catalogue of regexes that mask known
// secret shapes in logs and captured subprocess output, regardless of
// which sensitive env vars a particular job declares.
var secretPatterns = []*regexp.Regexp{
	// AWS access keys.
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// PEM-encoded key material.
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+PRIVATE KEY-----.+?-----END [A-Z ]+PRIVATE KEY-----`),
	// Anthropic/OpenAI-style provider tokens.
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	// GitHub tokens.
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{16,}`),
	// Generic key=value / key: value secrets.
	regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*\S+`),
}

// minSensitiveValueLen is the minimum length a sensitive env var's
// value must have before it is treated as a maskable substring; short
// values (booleans, single digits) are not worth masking and masking
// them would make logs unreadable.
const minSensitiveValueLen = 6

// Redactor masks sensitive values out of log lines and captured output
// before they reach artifacts or telemetry.
type Redactor struct {
	sensitiveValues []string
}

// NewRedactor builds a Redactor that masks the current values of the
// given environment variable names, in addition to the built-in secret
// pattern catalogue.
func NewRedactor(env []string, sensitiveVarNames []string) *Redactor {
	wanted := make(map[string]bool, len(sensitiveVarNames))
	for _, n := range sensitiveVarNames {
		wanted[n] = true
	}

	var values []string
	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if wanted[key] && len(val) >= minSensitiveValueLen {
			values = append(values, val)
		}
	}
	return &Redactor{sensitiveValues: values}
}

// Redact masks every configured sensitive env var value and every
// built-in secret pattern match in s.
func (r *Redactor) Redact(s string) string {
	for _, v := range r.sensitiveValues {
		if v == "" {
			continue
		}
		s = strings.ReplaceAll(s, v, "[REDACTED]")
	}
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
