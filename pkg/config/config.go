// Package config loads and validates the subsystem configuration from
// YAML, with defaults that keep the policy gates on. Tunable flags can
// be hot-reloaded; see Watcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonchat/sentinel/pkg/audit"
	serrors "github.com/halcyonchat/sentinel/pkg/errors"
)

// Default values exported for documentation and validation.
const (
	DefaultMaxAuditEntries  = 10000
	DefaultTimeoutSeconds   = 30
	DefaultOutputCeiling    = 1 << 20
	DefaultMaxConcurrent    = 4
	DefaultScanIntervalMins = 30
)

// Config is the complete configuration for the governance subsystem.
type Config struct {
	Policy     PolicyConfig     `yaml:"policy"`
	Audit      AuditConfig      `yaml:"audit"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Bus        BusConfig        `yaml:"bus"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PolicyConfig holds the threat and capability policy gates.
type PolicyConfig struct {
	// AutoBlockCritical blocks send/execution outright at critical level.
	AutoBlockCritical bool `yaml:"auto_block_critical"`
	// PromptOnHigh routes high-level content to a confirmation flow.
	PromptOnHigh bool `yaml:"prompt_on_high"`
	// StrictCapabilities denies undetected capability usage instead of
	// letting it run.
	StrictCapabilities bool `yaml:"strict_capabilities"`
}

// AuditConfig tunes the audit log.
type AuditConfig struct {
	LogThreatsOnly bool `yaml:"log_threats_only"`
	// ThreatThreshold is the minimum severity kept when LogThreatsOnly is
	// on. One of none, low, medium, high, critical.
	ThreatThreshold string `yaml:"threat_threshold"`
	// MaxEntries is clamped to the 1000–100000 range on load.
	MaxEntries int `yaml:"max_entries"`
}

// ExecutionConfig tunes the broker.
type ExecutionConfig struct {
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	OutputCeilingBytes int64  `yaml:"output_ceiling_bytes"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	WorkingDir         string `yaml:"working_dir"`
}

// MonitoringConfig tunes the host scanner.
type MonitoringConfig struct {
	BackgroundMonitoring bool `yaml:"background_monitoring"`
	ScanIntervalMinutes  int  `yaml:"scan_interval_minutes"`
}

// BusConfig selects the event transport.
type BusConfig struct {
	// Mode is "memory" or "nats".
	Mode string `yaml:"mode"`
	URL  string `yaml:"url"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	// GrantDBPath is the SQLite file for Always grants. Empty disables
	// persistence; Always grants then behave like Session grants.
	GrantDBPath string `yaml:"grant_db_path"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// DefaultConfig returns the configuration used when no file exists. The
// policy gates default on: an unconfigured install should be the safe
// one.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{
			AutoBlockCritical: true,
			PromptOnHigh:      true,
		},
		Audit: AuditConfig{
			ThreatThreshold: "medium",
			MaxEntries:      DefaultMaxAuditEntries,
		},
		Execution: ExecutionConfig{
			TimeoutSeconds:     DefaultTimeoutSeconds,
			OutputCeilingBytes: DefaultOutputCeiling,
			MaxConcurrent:      DefaultMaxConcurrent,
		},
		Monitoring: MonitoringConfig{
			ScanIntervalMinutes: DefaultScanIntervalMins,
		},
		Bus: BusConfig{
			Mode: "memory",
			URL:  "nats://localhost:4222",
		},
		Logging: LoggingConfig{
			MinLevel: "info",
		},
	}
}

// Load reads configuration from path, merged over defaults. A missing
// file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, serrors.Wrap(err, serrors.ErrCodeConfigLoad, "reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, serrors.Wrap(err, serrors.ErrCodeConfigParse, "parsing config file")
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// clamp forces range-bounded values into their documented ranges rather
// than rejecting the file.
func (c *Config) clamp() {
	if c.Audit.MaxEntries < audit.MinEntries {
		c.Audit.MaxEntries = audit.MinEntries
	}
	if c.Audit.MaxEntries > audit.MaxEntries {
		c.Audit.MaxEntries = audit.MaxEntries
	}
	if c.Execution.TimeoutSeconds <= 0 {
		c.Execution.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Execution.OutputCeilingBytes <= 0 {
		c.Execution.OutputCeilingBytes = DefaultOutputCeiling
	}
	if c.Execution.MaxConcurrent <= 0 {
		c.Execution.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Monitoring.ScanIntervalMinutes <= 0 {
		c.Monitoring.ScanIntervalMinutes = DefaultScanIntervalMins
	}
}

// Validate rejects values that cannot be clamped into sense.
func (c *Config) Validate() error {
	if _, err := audit.ParseThreatLevel(c.Audit.ThreatThreshold); err != nil {
		return serrors.Wrap(err, serrors.ErrCodeConfigInvalid, "audit.threat_threshold")
	}

	switch strings.ToLower(strings.TrimSpace(c.Bus.Mode)) {
	case "memory", "nats":
	default:
		return serrors.New(serrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid bus.mode: %q (valid: memory, nats)", c.Bus.Mode))
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.MinLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return serrors.New(serrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid logging.min_level: %q (valid: debug, info, warn, error)", c.Logging.MinLevel))
	}

	return nil
}

// Timeout returns the default execution timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSeconds) * time.Second
}

// ScanInterval returns the background scan interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Monitoring.ScanIntervalMinutes) * time.Minute
}

// ThreatThreshold returns the parsed audit threshold.
func (c *Config) ThreatThreshold() audit.ThreatLevel {
	level, err := audit.ParseThreatLevel(c.Audit.ThreatThreshold)
	if err != nil {
		return audit.LevelMedium
	}
	return level
}
