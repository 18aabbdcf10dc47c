package hostscan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/halcyonchat/sentinel/pkg/audit"
	"github.com/halcyonchat/sentinel/pkg/bus"
	serrors "github.com/halcyonchat/sentinel/pkg/errors"
	"github.com/halcyonchat/sentinel/pkg/logging"
)

// Bus subjects for on-demand scans and report fan-out.
const (
	SubjectScanRequest = "sentinel.scan.request"
	SubjectScanReport  = "sentinel.scan.report"
)

// DefaultMinInterval throttles on-demand scans. Probes shell out to
// system tools; hammering them from a UI button helps nobody.
const DefaultMinInterval = 10 * time.Second

// Options tune the scanner.
type Options struct {
	// MinInterval is the minimum spacing between scans. Zero uses
	// DefaultMinInterval.
	MinInterval time.Duration
}

// Scanner probes host security posture. The latest report is
// single-writer (the scanner), multi-reader behind an RWMutex.
type Scanner struct {
	runner   Runner
	auditLog *audit.Log
	alerts   *audit.AlertStore
	logger   *logging.Logger
	msgBus   bus.MessageBus
	limiter  *rate.Limiter

	mu     sync.RWMutex
	latest *HostSecurityReport
}

// NewScanner wires a scanner. auditLog, alerts, logger, and msgBus may
// each be nil; runner nil means the real ExecRunner.
func NewScanner(runner Runner, auditLog *audit.Log, alerts *audit.AlertStore, logger *logging.Logger, msgBus bus.MessageBus, opts Options) *Scanner {
	if runner == nil {
		runner = ExecRunner{}
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &Scanner{
		runner:   runner,
		auditLog: auditLog,
		alerts:   alerts,
		logger:   logger,
		msgBus:   msgBus,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Scan runs every probe concurrently, assembles a fresh report, replaces
// the previous one, raises alerts for suspicious findings, and writes
// one audit entry summarizing pass/fail counts.
func (s *Scanner) Scan(ctx context.Context) (*HostSecurityReport, error) {
	if !s.limiter.Allow() {
		return nil, serrors.New(serrors.ErrCodeScanThrottle, "host scan rate limit exceeded")
	}

	probes := protectionProbes()
	results := make([]bool, len(probes))
	var processes []ProcessInfo
	var ports []PortInfo

	g, probeCtx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			if p.assume {
				results[i] = true
				return nil
			}
			out, err := s.runner.Run(probeCtx, p.argv[0], p.argv[1:]...)
			if err != nil {
				// An unqueryable protection is reported as off.
				s.logEvent(logging.LevelWarn, "probe_failed", fmt.Sprintf("probe %s failed", p.name), map[string]any{
					"probe": p.name, "error": err.Error(),
				})
				results[i] = false
				return nil
			}
			results[i] = p.pass(out)
			return nil
		})
	}
	g.Go(func() error {
		procs, err := enumerateProcesses(probeCtx, s.runner)
		if err != nil {
			s.logEvent(logging.LevelWarn, "probe_failed", "process enumeration failed", map[string]any{"error": err.Error()})
			return nil
		}
		processes = procs
		return nil
	})
	g.Go(func() error {
		open, err := enumeratePorts(probeCtx, s.runner)
		if err != nil {
			s.logEvent(logging.LevelWarn, "probe_failed", "port enumeration failed", map[string]any{"error": err.Error()})
			return nil
		}
		ports = open
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, serrors.Wrap(err, serrors.ErrCodeScanProbe, "host scan probes failed")
	}

	report := &HostSecurityReport{
		Timestamp:           time.Now(),
		SuspiciousProcesses: processes,
		OpenPorts:           ports,
	}
	for i, p := range probes {
		p.set(report, results[i])
		if !results[i] && p.recommendation != "" {
			report.Recommendations = append(report.Recommendations, p.recommendation)
		}
	}
	if len(processes) > 0 {
		report.Recommendations = append(report.Recommendations, "Review and terminate the flagged processes.")
	}
	if len(ports) > 0 {
		report.Recommendations = append(report.Recommendations, "Close or firewall the flagged listening ports.")
	}

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	s.raiseAlerts(report)
	s.auditScan(report)
	s.publishReport(ctx, report)
	recordScan(report)

	return report, nil
}

// Latest returns the most recent report, or nil before the first scan.
func (s *Scanner) Latest() *HostSecurityReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run scans on a fixed schedule until ctx is cancelled. Used when
// background monitoring is enabled.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil && !serrors.IsCode(err, serrors.ErrCodeScanThrottle) {
				s.logEvent(logging.LevelError, "scan_failed", "background scan failed", map[string]any{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}

// AttachBus answers on-demand scan requests over the bus with the
// resulting report as JSON.
func (s *Scanner) AttachBus(ctx context.Context) (bus.Subscription, error) {
	if s.msgBus == nil {
		return nil, fmt.Errorf("no message bus configured")
	}
	return s.msgBus.Subscribe(ctx, SubjectScanRequest, func(msg *bus.Message) []byte {
		report, err := s.Scan(ctx)
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			return data
		}
		data, _ := json.Marshal(report)
		return data
	})
}

func (s *Scanner) raiseAlerts(report *HostSecurityReport) {
	if s.alerts == nil {
		return
	}
	if len(report.SuspiciousProcesses) > 0 {
		patterns := make([]string, len(report.SuspiciousProcesses))
		for i, p := range report.SuspiciousProcesses {
			patterns[i] = fmt.Sprintf("%s (pid %d): %s", p.Name, p.PID, p.Indicator)
		}
		s.alerts.Raise(audit.Alert{
			Type:            audit.AlertSuspiciousProcess,
			Severity:        audit.LevelHigh,
			Message:         fmt.Sprintf("%d suspicious processes found", len(report.SuspiciousProcesses)),
			MatchedPatterns: patterns,
		})
	}
	if len(report.OpenPorts) > 0 {
		patterns := make([]string, len(report.OpenPorts))
		for i, p := range report.OpenPorts {
			patterns[i] = fmt.Sprintf("%s port %d (%s): %s", p.Protocol, p.Port, p.Process, p.Indicator)
		}
		s.alerts.Raise(audit.Alert{
			Type:            audit.AlertSuspiciousPort,
			Severity:        audit.LevelMedium,
			Message:         fmt.Sprintf("%d suspicious listening ports found", len(report.OpenPorts)),
			MatchedPatterns: patterns,
		})
	}
}

func (s *Scanner) auditScan(report *HostSecurityReport) {
	if s.auditLog == nil {
		return
	}
	passed, failed := report.passCount()
	severity := audit.LevelNone
	if failed > 0 {
		severity = audit.LevelLow
	}
	if len(report.SuspiciousProcesses) > 0 || len(report.OpenPorts) > 0 {
		severity = audit.LevelMedium
	}
	s.auditLog.Append(audit.Entry{
		EventType:   audit.EventHostScan,
		Description: fmt.Sprintf("host scan: %d checks passed, %d failed", passed, failed),
		Severity:    severity,
		Details: map[string]any{
			"checks_passed":        passed,
			"checks_failed":        failed,
			"suspicious_processes": len(report.SuspiciousProcesses),
			"suspicious_ports":     len(report.OpenPorts),
			"recommendations":      report.Recommendations,
		},
	})
}

func (s *Scanner) publishReport(ctx context.Context, report *HostSecurityReport) {
	if s.msgBus == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	_ = s.msgBus.Publish(ctx, SubjectScanReport, data)
}

func (s *Scanner) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if s.logger == nil {
		return
	}
	_ = s.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryScanner,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
