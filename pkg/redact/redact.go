// Package redact removes secret-shaped substrings from execution output
// before it is returned to callers. Redaction is unconditional: it does
// not depend on which capabilities the execution was granted.
package redact

import (
	"regexp"
)

// Marker replaces every detected secret span.
const Marker = "[REDACTED]"

// secretPattern pairs a compiled expression with a label used in audit
// detail maps.
type secretPattern struct {
	name string
	re   *regexp.Regexp
}

// The pattern set is compiled once at package init. Keep expressions
// linear (no nested quantifiers) so a hostile output string cannot cause
// catastrophic backtracking.
var secretPatterns = []secretPattern{
	// The anthropic pattern precedes the generic sk- pattern so the more
	// specific label wins.
	{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.~+/-]{20,}=*`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"generic_api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password)\s*[:=]\s*["']?[A-Za-z0-9_/+-]{16,}["']?`)},
}

// Result reports what a redaction pass found.
type Result struct {
	Output          string
	SecretsDetected bool
	Matched         []string // pattern names, in catalogue order, deduplicated
}

// Redact scans s against the secret pattern set and replaces every match
// with Marker.
func Redact(s string) Result {
	r := Result{Output: s}
	for _, p := range secretPatterns {
		if !p.re.MatchString(r.Output) {
			continue
		}
		r.Output = p.re.ReplaceAllString(r.Output, Marker)
		r.SecretsDetected = true
		r.Matched = append(r.Matched, p.name)
	}
	return r
}
