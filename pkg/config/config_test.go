package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/sentinel/pkg/audit"
	serrors "github.com/halcyonchat/sentinel/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Policy.AutoBlockCritical)
	assert.True(t, cfg.Policy.PromptOnHigh)
	assert.False(t, cfg.Policy.StrictCapabilities)
	assert.Equal(t, DefaultMaxAuditEntries, cfg.Audit.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, "memory", cfg.Bus.Mode)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  auto_block_critical: false
  strict_capabilities: true
audit:
  log_threats_only: true
  threat_threshold: high
  max_entries: 5000
execution:
  timeout_seconds: 10
  max_concurrent: 2
bus:
  mode: nats
  url: nats://broker:4222
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Policy.AutoBlockCritical)
	assert.True(t, cfg.Policy.PromptOnHigh, "unset keys keep defaults")
	assert.True(t, cfg.Policy.StrictCapabilities)
	assert.True(t, cfg.Audit.LogThreatsOnly)
	assert.Equal(t, audit.LevelHigh, cfg.ThreatThreshold())
	assert.Equal(t, 5000, cfg.Audit.MaxEntries)
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.Equal(t, "nats", cfg.Bus.Mode)
}

func TestLoadClampsAuditEntries(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below minimum", 10, audit.MinEntries},
		{"above maximum", 10000000, audit.MaxEntries},
		{"in range", 2000, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "audit:\n  max_entries: "+strconv.Itoa(tt.in)+"\n")
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Audit.MaxEntries)
		})
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	path := writeConfig(t, "audit:\n  threat_threshold: catastrophic\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfigInvalid))
}

func TestLoadRejectsBadBusMode(t *testing.T) {
	path := writeConfig(t, "bus:\n  mode: carrier-pigeon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfigInvalid))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "policy: [not a map\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfigParse))
}

func TestWatcherDeliversReload(t *testing.T) {
	path := writeConfig(t, "policy:\n  auto_block_critical: true\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("policy:\n  auto_block_critical: false\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.False(t, cfg.Policy.AutoBlockCritical)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfig(t, "policy:\n  auto_block_critical: true\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("audit:\n  threat_threshold: bogus\n"), 0o644))

	select {
	case cfg := <-reloaded:
		t.Fatalf("bad config should not be delivered, got %+v", cfg)
	case <-time.After(time.Second):
	}
}
