//go:build windows

package launcher

import (
	"context"
	"os"
	"os/exec"
)

func setSysProcAttr(cmd *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func shellCommandContext(ctx context.Context, code string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/c", code)
}

func peakRSS(state *os.ProcessState) int64 { return 0 }
