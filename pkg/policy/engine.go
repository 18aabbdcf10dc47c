// Package policy classifies code fragments before execution: which
// capabilities they need, and whether they hit the dangerous shell
// command blocklist.
//
// Capability detection is a best-effort heuristic over code text, not a
// static analyzer. False negatives are possible and accepted; the
// blocklist is the hard backstop for destructive shell operations and is
// checked before, and independently of, any capability logic.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// Engine evaluates code fragments against the capability-detection tables
// and the dangerous command blocklist. Patterns are compiled once at
// construction; Classify never compiles.
type Engine struct {
	blocklist []compiledPattern
	rules     map[capability.Language][]capability.DetectionRule
}

type compiledPattern struct {
	re  *regexp.Regexp
	src capability.DangerousPattern
}

// NewEngine compiles the catalogue into a ready engine. It fails only if
// the catalogue itself holds an invalid expression, which is a programming
// error worth surfacing at startup rather than per request.
func NewEngine() (*Engine, error) {
	e := &Engine{
		blocklist: make([]compiledPattern, 0, len(capability.DangerousPatterns)),
		rules:     capability.DetectionRules,
	}
	for _, p := range capability.DangerousPatterns {
		re, err := regexp.Compile(`(?i)` + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid blocklist pattern %q: %w", p.Expr, err)
		}
		e.blocklist = append(e.blocklist, compiledPattern{re: re, src: p})
	}
	return e, nil
}

// Classify analyzes a code fragment. The blocklist check runs first for
// shell-tagged languages and short-circuits: a blocked command reports
// the first matching pattern and is never executed. Capability detection
// then scans the per-language table; shell languages always require
// ShellExecution regardless of what the table finds.
func (e *Engine) Classify(lang capability.Language, code string) Classification {
	c := Classification{Required: capability.NewSet()}

	if lang.IsShell() {
		if reason := e.matchBlocklist(code); reason != nil {
			c.Blocked = reason
			return c
		}
		c.Required = c.Required.Add(capability.ShellExecution)
	}

	for _, rule := range e.rules[lang] {
		if strings.Contains(code, rule.Pattern) {
			c.Required = c.Required.Add(rule.Capability)
		}
	}

	return c
}

// Potential returns every capability the detection table could ever
// assign for a language, plus ShellExecution for shell languages. Strict
// mode treats this as the required set, since under-detection cannot be
// ruled out for an arbitrary fragment.
func (e *Engine) Potential(lang capability.Language) capability.Set {
	s := capability.NewSet()
	if lang.IsShell() {
		s = s.Add(capability.ShellExecution)
	}
	for _, rule := range e.rules[lang] {
		s = s.Add(rule.Capability)
	}
	return s
}

// CheckCommand applies only the blocklist, for callers that want to vet a
// raw command string without capability detection.
func (e *Engine) CheckCommand(command string) *BlockReason {
	return e.matchBlocklist(command)
}

func (e *Engine) matchBlocklist(command string) *BlockReason {
	for _, p := range e.blocklist {
		if p.re.MatchString(command) {
			return &BlockReason{
				Category: p.src.Category,
				Pattern:  p.src.Expr,
				Reason:   p.src.Reason,
			}
		}
	}
	return nil
}
