package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ThreatLevel is a totally ordered severity classification. It drives
// alert display and the autoBlockCritical / promptOnHigh policy gates.
type ThreatLevel int

const (
	LevelNone ThreatLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the level name.
func (t ThreatLevel) String() string {
	switch t {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseThreatLevel converts a level name to a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "critical":
		return LevelCritical, nil
	default:
		return LevelNone, fmt.Errorf("unknown threat level: %q", s)
	}
}

// MarshalJSON encodes the level as its name.
func (t ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a level name.
func (t *ThreatLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseThreatLevel(s)
	if err != nil {
		return err
	}
	*t = level
	return nil
}

// EventType classifies audit entries.
type EventType string

const (
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionBlocked   EventType = "execution_blocked"
	EventExecutionDenied    EventType = "execution_denied"
	EventExecutionTimeout   EventType = "execution_timeout"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventExecutionFailed    EventType = "execution_failed"
	EventThreatDetected     EventType = "threat_detected"
	EventContentBlocked     EventType = "content_blocked"
	EventAlertRaised        EventType = "alert_raised"
	EventAlertAcknowledged  EventType = "alert_acknowledged"
	EventAlertCleared       EventType = "alert_cleared"
	EventGrantIssued        EventType = "grant_issued"
	EventGrantRevoked       EventType = "grant_revoked"
	EventHostScan           EventType = "host_scan"
)

// Entry is an immutable historical record of one security-relevant
// decision. Entries are never edited or reordered after insertion.
type Entry struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   EventType      `json:"event_type"`
	Description string         `json:"description"`
	Severity    ThreatLevel    `json:"severity"`
	Details     map[string]any `json:"details,omitempty"`
}

// AlertType classifies alerts for display grouping.
type AlertType string

const (
	AlertPromptInjection      AlertType = "prompt_injection"
	AlertCredentialExfil      AlertType = "credential_exfiltration"
	AlertDataExfil            AlertType = "data_exfiltration"
	AlertDestructiveIntent    AlertType = "destructive_intent"
	AlertObfuscation          AlertType = "obfuscation"
	AlertHostMisconfiguration AlertType = "host_misconfiguration"
	AlertSuspiciousProcess    AlertType = "suspicious_process"
	AlertSuspiciousPort       AlertType = "suspicious_port"
)

// Alert is a live, actionable item, unlike an Entry which is a frozen
// record. Only acknowledge/clear mutate it after creation.
type Alert struct {
	ID              string      `json:"id"`
	Type            AlertType   `json:"type"`
	Severity        ThreatLevel `json:"severity"`
	Message         string      `json:"message"`
	Timestamp       time.Time   `json:"timestamp"`
	MatchedPatterns []string    `json:"matched_patterns,omitempty"`
	AffectedContent string      `json:"affected_content,omitempty"`
	IsAcknowledged  bool        `json:"is_acknowledged"`
}
