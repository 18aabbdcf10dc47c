package broker

import (
	"fmt"
	"time"

	"github.com/halcyonchat/sentinel/pkg/capability"
	serrors "github.com/halcyonchat/sentinel/pkg/errors"
	"github.com/halcyonchat/sentinel/pkg/policy"
)

// ExecutionRequest asks the broker to run one code fragment on behalf of
// a conversation. Never mutated after submission.
type ExecutionRequest struct {
	ConversationID       string
	Language             capability.Language
	Code                 string
	ExplicitCapabilities capability.Set
	WorkingDir           string
	// Timeout of zero uses the broker default.
	Timeout time.Duration
}

// ResourceUsage reports what a finished process consumed.
type ResourceUsage struct {
	MemoryBytes int64
}

// ExecutionResult is produced exactly once per completed execution. A
// request yields either a full result or an ExecutionError, never both.
type ExecutionResult struct {
	RequestID        string
	Stdout           string
	Stderr           string
	ExitCode         int
	Duration         time.Duration
	ResourceUsage    ResourceUsage
	SecretsDetected  bool
	WasTruncated     bool
	CapabilitiesUsed capability.Set
}

// ErrorKind tags the reason no ExecutionResult exists.
type ErrorKind string

const (
	KindCapabilityDenied ErrorKind = "capability_denied"
	KindDangerousCommand ErrorKind = "dangerous_command"
	KindTimeout          ErrorKind = "timeout"
	KindProcessFailure   ErrorKind = "process_failure"
)

// ExecutionError explains exactly why a request produced no result. The
// rendered message carries the precise policy that fired, so callers can
// surface it verbatim.
type ExecutionError struct {
	RequestID string
	Kind      ErrorKind
	// Denied is the first missing capability, in declaration order, when
	// Kind is KindCapabilityDenied.
	Denied capability.Capability
	// Block is set when Kind is KindDangerousCommand.
	Block  *policy.BlockReason
	Detail string
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case KindCapabilityDenied:
		return fmt.Sprintf("capability denied: %s (%s)", e.Denied, e.Denied.Describe())
	case KindDangerousCommand:
		return e.Block.String()
	case KindTimeout:
		return "execution timed out"
	case KindProcessFailure:
		return fmt.Sprintf("process failure: %s", e.Detail)
	default:
		return string(e.Kind)
	}
}

// Code maps the error onto the subsystem error code taxonomy.
func (e *ExecutionError) Code() serrors.ErrorCode {
	switch e.Kind {
	case KindCapabilityDenied:
		return serrors.ErrCodeCapabilityDenied
	case KindDangerousCommand:
		return serrors.ErrCodeDangerousCommand
	case KindTimeout:
		return serrors.ErrCodeExecTimeout
	case KindProcessFailure:
		if e.Detail == cancelledDetail {
			return serrors.ErrCodeExecCancelled
		}
		return serrors.ErrCodeProcessFailure
	default:
		return serrors.ErrCodeInternal
	}
}

// Retryable reports whether resubmitting the identical request could
// succeed after out-of-band action. Only authorization gaps qualify.
func (e *ExecutionError) Retryable() bool {
	return e.Kind == KindCapabilityDenied
}

const cancelledDetail = "cancelled"

// State names a position in the per-request lifecycle.
type State string

const (
	StateSubmitted         State = "submitted"
	StatePolicyChecked     State = "policy_checked"
	StateBlocked           State = "blocked"
	StateCapabilityChecked State = "capability_checked"
	StateDenied            State = "denied"
	StateRunning           State = "running"
	StateCompleted         State = "completed"
	StateTimedOut          State = "timed_out"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)
