// Package threat scores chat content against categorized threat pattern
// sets and raises alerts through the audit layer. The highest-severity
// matching category determines the resulting threat level.
package threat

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/halcyonchat/sentinel/pkg/audit"
)

// Direction tells the assessor which side of the conversation produced
// the content.
type Direction string

const (
	DirectionPrompt   Direction = "prompt"
	DirectionResponse Direction = "response"
)

// Context describes the content being assessed.
type Context struct {
	ConversationID string
	Direction      Direction
}

// threatPattern is one entry in a category's pattern set.
type threatPattern struct {
	expr        string
	description string
}

// patternCategory groups patterns under an alert type and severity.
type patternCategory struct {
	alertType audit.AlertType
	severity  audit.ThreatLevel
	patterns  []threatPattern
}

// The category table is data; the assessor iterates it generically.
// Category order only affects which alert message is composed first when
// several categories share the winning severity.
var categories = []patternCategory{
	{
		alertType: audit.AlertCredentialExfil,
		severity:  audit.LevelCritical,
		patterns: []threatPattern{
			{`(?i)(send|post|upload|exfiltrate)\b.{0,40}\b(password|credential|api.?key|secret|token)s?\b`, "asks to transmit credentials"},
			{`(?i)\b(read|cat|print|dump|show)\b.{0,40}(\.env|\.ssh|\.aws|id_rsa|credentials|keychain)`, "asks to read credential files"},
			{`(?i)curl\s+.{0,60}(-d|--data).{0,60}(key|token|secret|password)`, "posts secrets to a remote host"},
		},
	},
	{
		alertType: audit.AlertDestructiveIntent,
		severity:  audit.LevelCritical,
		patterns: []threatPattern{
			{`(?i)\b(delete|wipe|destroy|format)\b.{0,30}\b(all|every|entire|whole)\b.{0,30}\b(file|disk|drive|data)`, "asks for mass data destruction"},
			{`(?i)rm\s+-rf\s+[/~]`, "recursive delete from root or home"},
		},
	},
	{
		alertType: audit.AlertPromptInjection,
		severity:  audit.LevelHigh,
		patterns: []threatPattern{
			{`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules)`, "classic instruction override"},
			{`(?i)disregard\s+(your|the|all)\s+.{0,20}(instructions|guidelines|rules|training)`, "instruction disregard phrasing"},
			{`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|unrestricted)\s*mode`, "jailbreak mode claim"},
			{`(?i)pretend\s+(you\s+are|to\s+be)\s+.{0,30}(no|without)\s+(restrictions|limits|rules)`, "restriction-free roleplay"},
			{`(?i)(reveal|show|print|repeat)\b.{0,30}(system\s+prompt|initial\s+instructions|hidden\s+instructions)`, "system prompt extraction"},
		},
	},
	{
		alertType: audit.AlertDataExfil,
		severity:  audit.LevelHigh,
		patterns: []threatPattern{
			{`(?i)(tar|zip|compress)\b.{0,50}\b(home|documents|desktop)\b.{0,60}(upload|send|post|scp)`, "archives and ships user data"},
			{`(?i)base64\b.{0,40}\b(curl|wget|nc)\b`, "encodes data for network transfer"},
			{`(?i)history\s*\|\s*(curl|nc|wget)`, "ships shell history to a remote host"},
		},
	},
	{
		alertType: audit.AlertObfuscation,
		severity:  audit.LevelMedium,
		patterns: []threatPattern{
			{`(?i)eval\s*\(\s*(atob|base64|decode)`, "evaluates decoded payload"},
			{`(?i)echo\s+[A-Za-z0-9+/=]{40,}\s*\|\s*base64\s+(-d|--decode)`, "decodes an opaque payload"},
			{`\\x[0-9a-fA-F]{2}(\\x[0-9a-fA-F]{2}){7,}`, "long hex escape sequence"},
			{`(?i)fromCharCode\s*\((\s*\d+\s*,){5,}`, "character-code string construction"},
		},
	},
}

// Assessment is the result of one content scan.
type Assessment struct {
	Level           audit.ThreatLevel
	MatchedPatterns []string
	AlertType       audit.AlertType
	// Blocked is set when the gate decided the content must not be
	// sent/executed (autoBlockCritical).
	Blocked bool
	// NeedsConfirmation is set when the promptOnHigh gate wants the UI
	// to ask before proceeding.
	NeedsConfirmation bool
	AlertID           string
}

// Gates configure how assessment results are acted on.
type Gates struct {
	AutoBlockCritical bool
	PromptOnHigh      bool
}

type compiledCategory struct {
	alertType audit.AlertType
	severity  audit.ThreatLevel
	patterns  []*regexp.Regexp
	described []string
}

// Assessor scans content against the category table. Construct once;
// patterns are compiled a single time.
type Assessor struct {
	categories []compiledCategory
	mu         sync.RWMutex
	gates      Gates
	log        *audit.Log
	alerts     *audit.AlertStore
}

// NewAssessor compiles the category table. log and alerts may be nil for
// pure scoring use (tests, previews).
func NewAssessor(gates Gates, log *audit.Log, alerts *audit.AlertStore) (*Assessor, error) {
	a := &Assessor{gates: gates, log: log, alerts: alerts}
	for _, cat := range categories {
		cc := compiledCategory{alertType: cat.alertType, severity: cat.severity}
		for _, p := range cat.patterns {
			re, err := regexp.Compile(p.expr)
			if err != nil {
				return nil, fmt.Errorf("invalid threat pattern %q: %w", p.expr, err)
			}
			cc.patterns = append(cc.patterns, re)
			cc.described = append(cc.described, p.description)
		}
		a.categories = append(a.categories, cc)
	}
	return a, nil
}

// SetGates replaces the policy gates. Used by config hot reload.
func (a *Assessor) SetGates(g Gates) {
	a.mu.Lock()
	a.gates = g
	a.mu.Unlock()
}

// Assess scores content, applies the policy gates, raises an alert for
// levels at or above medium, and writes one audit entry. The audit
// entry's fate under logThreatsOnly is the log's concern, not ours.
func (a *Assessor) Assess(text string, ctx Context) Assessment {
	result := Assessment{Level: audit.LevelNone}

	for _, cat := range a.categories {
		matched := false
		for i, re := range cat.patterns {
			if re.MatchString(text) {
				matched = true
				result.MatchedPatterns = append(result.MatchedPatterns, cat.described[i])
			}
		}
		if matched && cat.severity > result.Level {
			result.Level = cat.severity
			result.AlertType = cat.alertType
		}
	}

	a.mu.RLock()
	gates := a.gates
	a.mu.RUnlock()

	if result.Level == audit.LevelCritical && gates.AutoBlockCritical {
		result.Blocked = true
	}
	if result.Level == audit.LevelHigh && gates.PromptOnHigh {
		result.NeedsConfirmation = true
	}
	recordAssessment(result.Level.String(), result.Blocked)

	if result.Level >= audit.LevelMedium && a.alerts != nil {
		result.AlertID = a.alerts.Raise(audit.Alert{
			Type:            result.AlertType,
			Severity:        result.Level,
			Message:         alertMessage(result, ctx),
			MatchedPatterns: result.MatchedPatterns,
			AffectedContent: truncateContent(text),
		})
	}

	if a.log != nil {
		eventType := audit.EventThreatDetected
		if result.Blocked {
			eventType = audit.EventContentBlocked
		}
		a.log.Append(audit.Entry{
			EventType:   eventType,
			Description: entryDescription(result, ctx),
			Severity:    result.Level,
			Details: map[string]any{
				"conversation_id":  ctx.ConversationID,
				"direction":        string(ctx.Direction),
				"matched_patterns": result.MatchedPatterns,
			},
		})
	}

	return result
}

func alertMessage(r Assessment, ctx Context) string {
	return fmt.Sprintf("%s content matched %s patterns (%s)", ctx.Direction, r.AlertType, r.Level)
}

func entryDescription(r Assessment, ctx Context) string {
	if r.Level == audit.LevelNone {
		return fmt.Sprintf("%s content assessed clean", ctx.Direction)
	}
	verdict := "logged"
	if r.Blocked {
		verdict = "blocked"
	} else if r.NeedsConfirmation {
		verdict = "held for confirmation"
	}
	return fmt.Sprintf("%s content assessed %s (%s), %s", ctx.Direction, r.Level, r.AlertType, verdict)
}

const maxAffectedContent = 500

func truncateContent(s string) string {
	if len(s) <= maxAffectedContent {
		return s
	}
	return s[:maxAffectedContent] + "..."
}
