//go:build !windows

package tasks

import (
	"context"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// notFoundExitCode is what /bin/sh returns when the command is not on PATH
const notFoundExitCode = 127

// shellCommand builds a /bin/sh invocation in its own process group so a
// timeout kills the whole pipeline, not only the shell
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	return cmd
}
