//go:build !windows

package session

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the command in a new process group so the
// whole group can be signalled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
