//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so the
// whole tree can be signaled together. Detached additionally starts a new
// session, severing the controlling terminal.
func configureSysProcAttr(cmd *exec.Cmd, detached bool) {
	attrs := &syscall.SysProcAttr{}
	if detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
