//go:build !linux

package sandbox

import (
	"os/exec"
	"syscall"
)

func newGroupProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// killProcessGroup falls back to killing just the direct child on
// non-Linux platforms, where process-group signalling isn't wired the
// same way (the subprocess backend is a local-dev/test path; the
// container backend is what production uses regardless of host OS).
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
