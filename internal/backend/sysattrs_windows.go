//go:build windows

package backend

import (
	"os/exec"
	"syscall"
)

const (
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

// configureSysProcAttr creates a new Windows process group; Detached also
// drops the inherited console.
func configureSysProcAttr(cmd *exec.Cmd, detached bool) {
	flags := uint32(createNewProcessGroup)
	if detached {
		flags |= detachedProcess
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}
