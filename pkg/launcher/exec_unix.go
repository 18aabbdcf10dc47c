//go:build !windows

package launcher

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// setSysProcAttr puts the child in its own process group so a timeout
// can take down any grandchildren it spawned.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup signals the whole process group. SIGTERM first; the
// WaitDelay on the command escalates to SIGKILL if it is ignored.
func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		// Fall back to the single process if the group is already gone.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

func shellCommandContext(ctx context.Context, code string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", code)
}

// peakRSS reads the child's maximum resident set size. Linux reports
// kilobytes, darwin reports bytes.
func peakRSS(state *os.ProcessState) int64 {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return int64(ru.Maxrss)
	}
	return int64(ru.Maxrss) * 1024
}
