// Package launcher spawns interpreters for the execution broker. The
// broker treats the Launcher interface as an opaque capability: policy
// lives in the broker, process mechanics live here.
package launcher

import (
	"context"
	"time"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// Spec describes one process to launch.
type Spec struct {
	Language      capability.Language
	Code          string
	WorkingDir    string
	Timeout       time.Duration
	MaxOutputSize int64 // per-stream byte ceiling; 0 means unlimited
}

// Outcome is the raw result of a finished process. Output beyond the
// ceiling is discarded at capture time, never buffered.
type Outcome struct {
	Stdout          []byte
	Stderr          []byte
	ExitCode        int
	Duration        time.Duration
	PeakMemoryBytes int64
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
}

// Launcher runs a code fragment and reports its outcome. Implementations
// must honor ctx cancellation by terminating the process.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Outcome, error)
}
