//go:build !windows

package backend

import (
	"errors"
	"os/exec"
	"syscall"
)

// signalGroup signals the child's process group so helper processes it
// spawned are covered too.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// processExists reports whether a process with the given pid exists. EPERM
// still means it exists, just not ours to signal.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func noopCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
