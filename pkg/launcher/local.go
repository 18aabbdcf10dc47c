package launcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// DefaultKillGrace is how long a terminated process gets to exit cleanly
// before it is killed outright.
const DefaultKillGrace = 3 * time.Second

// Local runs code fragments as child processes of this one. It is the
// production Launcher; tests substitute fakes.
type Local struct {
	// KillGrace overrides DefaultKillGrace when positive.
	KillGrace time.Duration
}

// NewLocal creates a local launcher.
func NewLocal() *Local {
	return &Local{}
}

// interpreterCommand maps a language to its interpreter invocation. The
// code text always travels as a single argument, never through shell
// interpolation, except for the shell language itself where the shell is
// the interpreter.
func interpreterCommand(ctx context.Context, lang capability.Language, code string) (*exec.Cmd, error) {
	switch lang {
	case capability.LangPython:
		return exec.CommandContext(ctx, "python3", "-c", code), nil
	case capability.LangJavaScript:
		return exec.CommandContext(ctx, "node", "-e", code), nil
	case capability.LangRuby:
		return exec.CommandContext(ctx, "ruby", "-e", code), nil
	case capability.LangShell:
		return shellCommandContext(ctx, code), nil
	default:
		return nil, fmt.Errorf("no interpreter for language %q", lang)
	}
}

// limitWriter keeps at most limit bytes and discards the rest. It never
// fails the write: the process keeps running, its excess output simply
// isn't retained.
type limitWriter struct {
	mu        sync.Mutex
	buf       []byte
	limit     int64
	truncated bool
}

func newLimitWriter(limit int64) *limitWriter {
	return &limitWriter{limit: limit}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limit <= 0 {
		w.buf = append(w.buf, p...)
		return len(p), nil
	}
	remaining := w.limit - int64(len(w.buf))
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.buf = append(w.buf, p[:remaining]...)
		w.truncated = true
	} else {
		w.buf = append(w.buf, p...)
	}
	return len(p), nil
}

func (w *limitWriter) bytes() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf, w.truncated
}

// Launch runs the fragment under the spec's timeout and output ceiling.
// A timeout produces an Outcome with TimedOut set; cancellation of the
// caller's context produces ctx.Err().
func (l *Local) Launch(ctx context.Context, spec Spec) (*Outcome, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd, err := interpreterCommand(runCtx, spec.Language, spec.Code)
	if err != nil {
		return nil, err
	}

	setSysProcAttr(cmd)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}

	grace := l.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	// On cancellation, terminate the whole process group and give it a
	// grace period before the hard kill.
	cmd.Cancel = func() error {
		return terminateGroup(cmd)
	}
	cmd.WaitDelay = grace

	stdout := newLimitWriter(spec.MaxOutputSize)
	stderr := newLimitWriter(spec.MaxOutputSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Caller cancellation wins over everything else.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	outBytes, outTrunc := stdout.bytes()
	errBytes, errTrunc := stderr.bytes()

	outcome := &Outcome{
		Stdout:          outBytes,
		Stderr:          errBytes,
		Duration:        duration,
		StdoutTruncated: outTrunc,
		StderrTruncated: errTrunc,
	}
	if cmd.ProcessState != nil {
		outcome.PeakMemoryBytes = peakRSS(cmd.ProcessState)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		return outcome, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, nil
		}
		// Interpreter missing, fork failure, and similar.
		return nil, runErr
	}

	outcome.ExitCode = 0
	return outcome, nil
}
