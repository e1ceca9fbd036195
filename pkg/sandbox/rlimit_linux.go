//go:build linux

package sandbox

import (
	"os/exec"
	"syscall"
)

// newGroupProcAttr puts the child in its own process group so
// killProcessGroup can signal the whole prlimit+python tree at once.
func newGroupProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup kills the whole process group a timed-out
// subprocess started, so prlimit's child (the actual python process)
// doesn't survive as an orphan.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
