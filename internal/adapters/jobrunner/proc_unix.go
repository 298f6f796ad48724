//go:build unix

package jobrunner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup gives the child its own process group so a deadline kill
// takes down the whole pipeline tree, not just the entrypoint.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree SIGKILLs the child's process group.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		// The group is already gone; Wait treats ErrProcessDone as a
		// clean cancellation.
		return os.ErrProcessDone
	}
	return err
}
