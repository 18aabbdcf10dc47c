// Package broker is the execution gatekeeper: it classifies a code
// fragment, checks the conversation's capability grants, runs the
// fragment under a timeout and output ceiling, redacts secrets from the
// output, and writes exactly one audit entry per terminal outcome.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/halcyonchat/sentinel/pkg/audit"
	"github.com/halcyonchat/sentinel/pkg/capability"
	"github.com/halcyonchat/sentinel/pkg/grants"
	"github.com/halcyonchat/sentinel/pkg/launcher"
	"github.com/halcyonchat/sentinel/pkg/logging"
	"github.com/halcyonchat/sentinel/pkg/policy"
	"github.com/halcyonchat/sentinel/pkg/redact"
)

// Options tune broker behavior. The zero value gets sane defaults from
// NewBroker.
type Options struct {
	// DefaultTimeout applies when a request carries none.
	DefaultTimeout time.Duration
	// OutputCeiling bounds each captured stream in bytes.
	OutputCeiling int64
	// MaxConcurrent caps in-flight executions.
	MaxConcurrent int64
	// StrictCapabilities treats every capability the language's detection
	// table could assign as required, instead of only the detected ones.
	StrictCapabilities bool
}

const (
	defaultTimeout       = 30 * time.Second
	defaultOutputCeiling = 1 << 20 // 1 MiB per stream
	defaultMaxConcurrent = 4
)

// Broker coordinates policy, grants, launch, redaction, and audit for
// execution requests. All collaborators are injected; the broker holds
// no ambient global state.
type Broker struct {
	policy   *policy.Engine
	grants   *grants.Store
	launcher launcher.Launcher
	auditLog *audit.Log
	logger   *logging.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	opts    Options
	running map[string]context.CancelFunc
}

// NewBroker wires a broker from its collaborators. auditLog and logger
// may be nil in tests that do not assert on them.
func NewBroker(engine *policy.Engine, store *grants.Store, l launcher.Launcher, auditLog *audit.Log, logger *logging.Logger, opts Options) *Broker {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.OutputCeiling <= 0 {
		opts.OutputCeiling = defaultOutputCeiling
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	return &Broker{
		policy:   engine,
		grants:   store,
		launcher: l,
		auditLog: auditLog,
		logger:   logger,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
		running:  make(map[string]context.CancelFunc),
	}
}

// SetOptions replaces the tunable options. MaxConcurrent changes only
// apply to brokers constructed after the change; the semaphore is fixed
// at construction.
func (b *Broker) SetOptions(opts Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.OutputCeiling <= 0 {
		opts.OutputCeiling = defaultOutputCeiling
	}
	opts.MaxConcurrent = b.opts.MaxConcurrent
	b.opts = opts
}

func (b *Broker) options() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// Execute runs one request through the full lifecycle. It returns either
// a complete result or an *ExecutionError, never both, and writes exactly
// one audit entry for the terminal state either way.
func (b *Broker) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	id := uuid.NewString()
	b.logEvent(logging.LevelDebug, "execution_submitted", "execution request submitted", map[string]any{
		"request_id":      id,
		"conversation_id": req.ConversationID,
		"language":        string(req.Language),
	})

	opts := b.options()

	classification := b.policy.Classify(req.Language, req.Code)
	if classification.Blocked != nil {
		return nil, b.finishBlocked(id, req, classification.Blocked)
	}

	required := classification.Required.Union(req.ExplicitCapabilities)
	if opts.StrictCapabilities {
		required = required.Union(b.policy.Potential(req.Language))
	}

	if missing := b.grants.Check(req.ConversationID, required); len(missing) > 0 {
		return nil, b.finishDenied(id, req, missing[0], required)
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, b.finishCancelled(id, req)
	}
	defer b.sem.Release(1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.register(id, cancel)
	defer b.unregister(id)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = opts.DefaultTimeout
	}

	outcome, err := b.launcher.Launch(runCtx, launcher.Spec{
		Language:      req.Language,
		Code:          req.Code,
		WorkingDir:    req.WorkingDir,
		Timeout:       timeout,
		MaxOutputSize: opts.OutputCeiling,
	})
	if err != nil {
		if runCtx.Err() != nil {
			return nil, b.finishCancelled(id, req)
		}
		return nil, b.finishFailed(id, req, err)
	}
	if outcome.TimedOut {
		// Partial output is discarded: it cannot be trusted for
		// capability-scoped guarantees.
		return nil, b.finishTimedOut(id, req, timeout)
	}

	return b.finishCompleted(id, req, required, outcome), nil
}

// Cancel cancels one in-flight execution by request ID. Returns false if
// no such execution is running.
func (b *Broker) Cancel(requestID string) bool {
	b.mu.Lock()
	cancel, ok := b.running[requestID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll cancels every in-flight execution and returns how many were
// cancelled.
func (b *Broker) CancelAll() int {
	b.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(b.running))
	for _, c := range b.running {
		cancels = append(cancels, c)
	}
	b.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// Approve records a capability grant on behalf of the approval flow and
// audits it. The caller re-submits the original request afterwards; the
// broker never retries on its own.
func (b *Broker) Approve(conversationID string, caps capability.Set, duration capability.Duration) error {
	if err := b.grants.Grant(conversationID, caps, duration); err != nil {
		return err
	}
	b.appendAudit(audit.Entry{
		EventType:   audit.EventGrantIssued,
		Description: "capabilities granted: " + joinCaps(caps),
		Severity:    audit.LevelNone,
		Details: map[string]any{
			"conversation_id": conversationID,
			"capabilities":    caps.Strings(),
			"duration":        duration.String(),
		},
	})
	return nil
}

// RevokeGrants removes every grant for a conversation and audits the
// revocation. In-flight executions that already passed their check keep
// running.
func (b *Broker) RevokeGrants(conversationID string) error {
	if err := b.grants.Revoke(conversationID); err != nil {
		return err
	}
	b.appendAudit(audit.Entry{
		EventType:   audit.EventGrantRevoked,
		Description: "all capability grants revoked",
		Severity:    audit.LevelLow,
		Details:     map[string]any{"conversation_id": conversationID},
	})
	return nil
}

func (b *Broker) register(id string, cancel context.CancelFunc) {
	b.mu.Lock()
	b.running[id] = cancel
	b.mu.Unlock()
	metricInFlight.Inc()
}

func (b *Broker) unregister(id string) {
	b.mu.Lock()
	delete(b.running, id)
	b.mu.Unlock()
	metricInFlight.Dec()
}

func (b *Broker) finishBlocked(id string, req ExecutionRequest, reason *policy.BlockReason) *ExecutionError {
	e := &ExecutionError{RequestID: id, Kind: KindDangerousCommand, Block: reason}
	recordExecution(StateBlocked)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionBlocked,
		Description: e.Error(),
		Severity:    audit.LevelHigh,
		Details: map[string]any{
			"request_id":      id,
			"conversation_id": req.ConversationID,
			"language":        string(req.Language),
			"category":        string(reason.Category),
			"pattern":         reason.Pattern,
		},
	})
	b.logEvent(logging.LevelWarn, "execution_blocked", e.Error(), map[string]any{
		"request_id": id, "conversation_id": req.ConversationID,
	})
	return e
}

func (b *Broker) finishDenied(id string, req ExecutionRequest, first capability.Capability, required capability.Set) *ExecutionError {
	e := &ExecutionError{RequestID: id, Kind: KindCapabilityDenied, Denied: first}
	recordExecution(StateDenied)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionDenied,
		Description: e.Error(),
		Severity:    audit.LevelMedium,
		Details: map[string]any{
			"request_id":      id,
			"conversation_id": req.ConversationID,
			"language":        string(req.Language),
			"required":        required.Strings(),
			"denied":          first.String(),
		},
	})
	b.logEvent(logging.LevelInfo, "execution_denied", e.Error(), map[string]any{
		"request_id": id, "conversation_id": req.ConversationID, "denied": first.String(),
	})
	return e
}

func (b *Broker) finishCancelled(id string, req ExecutionRequest) *ExecutionError {
	e := &ExecutionError{RequestID: id, Kind: KindProcessFailure, Detail: cancelledDetail}
	recordExecution(StateCancelled)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionCancelled,
		Description: "execution cancelled",
		Severity:    audit.LevelLow,
		Details: map[string]any{
			"request_id":      id,
			"conversation_id": req.ConversationID,
		},
	})
	return e
}

func (b *Broker) finishFailed(id string, req ExecutionRequest, cause error) *ExecutionError {
	e := &ExecutionError{RequestID: id, Kind: KindProcessFailure, Detail: cause.Error()}
	recordExecution(StateFailed)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionFailed,
		Description: e.Error(),
		Severity:    audit.LevelMedium,
		Details: map[string]any{
			"request_id":      id,
			"conversation_id": req.ConversationID,
			"detail":          cause.Error(),
		},
	})
	b.logEvent(logging.LevelError, "execution_failed", e.Error(), map[string]any{
		"request_id": id, "conversation_id": req.ConversationID,
	})
	return e
}

func (b *Broker) finishTimedOut(id string, req ExecutionRequest, timeout time.Duration) *ExecutionError {
	e := &ExecutionError{RequestID: id, Kind: KindTimeout}
	recordExecution(StateTimedOut)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionTimeout,
		Description: "execution timed out",
		Severity:    audit.LevelLow,
		Details: map[string]any{
			"request_id":      id,
			"conversation_id": req.ConversationID,
			"timeout":         timeout.String(),
		},
	})
	return e
}

func (b *Broker) finishCompleted(id string, req ExecutionRequest, used capability.Set, outcome *launcher.Outcome) *ExecutionResult {
	stdout := redact.Redact(string(outcome.Stdout))
	stderr := redact.Redact(string(outcome.Stderr))

	result := &ExecutionResult{
		RequestID:        id,
		Stdout:           stdout.Output,
		Stderr:           stderr.Output,
		ExitCode:         outcome.ExitCode,
		Duration:         outcome.Duration,
		ResourceUsage:    ResourceUsage{MemoryBytes: outcome.PeakMemoryBytes},
		SecretsDetected:  stdout.SecretsDetected || stderr.SecretsDetected,
		WasTruncated:     outcome.StdoutTruncated || outcome.StderrTruncated,
		CapabilitiesUsed: used,
	}

	// Once-grants are spent only by a successful run.
	if result.ExitCode == 0 {
		b.grants.Consume(req.ConversationID, used)
	}

	recordExecution(StateCompleted)
	b.appendAudit(audit.Entry{
		EventType:   audit.EventExecutionCompleted,
		Description: "execution completed",
		Severity:    audit.LevelNone,
		Details: map[string]any{
			"request_id":        id,
			"conversation_id":   req.ConversationID,
			"language":          string(req.Language),
			"exit_code":         result.ExitCode,
			"duration_ms":       result.Duration.Milliseconds(),
			"capabilities_used": used.Strings(),
			"was_truncated":     result.WasTruncated,
			"secrets_detected":  result.SecretsDetected,
		},
	})
	return result
}

func (b *Broker) appendAudit(entry audit.Entry) {
	if b.auditLog != nil {
		b.auditLog.Append(entry)
	}
}

func (b *Broker) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if b.logger == nil {
		return
	}
	_ = b.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryBroker,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

func joinCaps(caps capability.Set) string {
	names := caps.Strings()
	if len(names) == 0 {
		return "(none)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
