//go:build !windows

package converter

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so it can be
// killed together with anything it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the process group (negative PID).
func killProcessGroup(pid int) {
	// Best-effort; cmd.Process.Kill runs afterwards.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
