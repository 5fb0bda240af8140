//go:build windows

package tasks

import (
	"context"
	"os/exec"
	"syscall"
)

// notFoundExitCode is what cmd.exe returns for an unrecognized command
const notFoundExitCode = 9009

// shellCommand builds a cmd.exe invocation. The command line is passed verbatim
// so quoted service names like "Pulse Secure" reach sc.exe untouched.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "cmd.exe")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:    `cmd.exe /S /C "` + command + `"`,
		HideWindow: true,
	}
	return cmd
}
