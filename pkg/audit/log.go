// Package audit keeps the subsystem's causal record: a size-bounded
// append-only log of every security decision, and the set of live alerts.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus subjects carrying audit events to UI subscribers.
const (
	SubjectEntry = "sentinel.audit.entry"
	SubjectAlert = "sentinel.alert.raised"
)

// Publisher carries audit events to interested subscribers. Publishing is
// fire-and-forget; a slow or absent subscriber never blocks an append.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bounds for MaxEntries, matching the recognized configuration range.
const (
	MinEntries = 1000
	MaxEntries = 100000
)

// Config tunes the audit log.
type Config struct {
	// MaxEntries bounds the log; eviction is strict FIFO, oldest first.
	MaxEntries int
	// LogThreatsOnly drops entries below ThreatThreshold at the append
	// boundary. Existing entries are never filtered retroactively.
	LogThreatsOnly bool
	// ThreatThreshold is the minimum severity kept when LogThreatsOnly
	// is set.
	ThreatThreshold ThreatLevel
}

// Log is the bounded FIFO audit log. Appends are synchronous and
// in-memory; ordering is insertion order of completed events.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	cfg     Config
	pub     Publisher
}

// NewLog creates an audit log. pub may be nil. MaxEntries is clamped to
// the recognized range.
func NewLog(cfg Config, pub Publisher) *Log {
	cfg.MaxEntries = clampEntries(cfg.MaxEntries)
	return &Log{cfg: cfg, pub: pub}
}

func clampEntries(n int) int {
	if n < MinEntries {
		return MinEntries
	}
	if n > MaxEntries {
		return MaxEntries
	}
	return n
}

// Append inserts an entry at the end of the log, evicting from the front
// once the bound is exceeded. When LogThreatsOnly is set, entries below
// the threshold are dropped here, at the boundary.
func (l *Log) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	if l.cfg.LogThreatsOnly && e.Severity < l.cfg.ThreatThreshold {
		l.mu.Unlock()
		return
	}
	l.entries = append(l.entries, e)
	if excess := len(l.entries) - l.cfg.MaxEntries; excess > 0 {
		l.entries = append(l.entries[:0:0], l.entries[excess:]...)
	}
	l.mu.Unlock()

	if l.pub != nil {
		if data, err := json.Marshal(e); err == nil {
			_ = l.pub.Publish(context.Background(), SubjectEntry, data)
		}
	}
}

// Entries returns a copy of the current log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current entry count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SetMaxEntries changes the bound and prunes immediately if the log
// already exceeds it. Used by config hot reload.
func (l *Log) SetMaxEntries(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.MaxEntries = clampEntries(n)
	if excess := len(l.entries) - l.cfg.MaxEntries; excess > 0 {
		l.entries = append(l.entries[:0:0], l.entries[excess:]...)
	}
}

// SetThreatFilter updates the boundary filter. Used by config hot reload.
func (l *Log) SetThreatFilter(enabled bool, threshold ThreatLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.LogThreatsOnly = enabled
	l.cfg.ThreatThreshold = threshold
}

// export is the serialized document produced by ExportAll.
type export struct {
	ExportID   string  `json:"export_id"`
	ExportedAt string  `json:"exported_at"`
	EntryCount int     `json:"entry_count"`
	Entries    []Entry `json:"entries"`
}

// ExportAll serializes a complete, order-preserving snapshot of the log.
func (l *Log) ExportAll() ([]byte, error) {
	l.mu.Lock()
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	doc := export{
		ExportID:   ulid.Make().String(),
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		EntryCount: len(snapshot),
		Entries:    snapshot,
	}
	return json.MarshalIndent(doc, "", "  ")
}
