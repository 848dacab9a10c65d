//go:build !windows

package launcher

import (
	"os"
	"syscall"
)

// ExecServe returns a handoff that replaces the current process image with
// this binary running the given subcommand (typically "serve"). The
// backend child is carried across the exec untouched; it stays our child
// under the same PID.
func ExecServe(args ...string) HandoffFunc {
	return func() error {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		argv := append([]string{exe}, args...)
		return syscall.Exec(exe, argv, os.Environ()) // #nosec G204 -- re-executes this binary
	}
}

// ExecCommand returns a handoff that replaces the current process image
// with an arbitrary shell command instead of "ocrd serve". It backs the
// api.command config override.
func ExecCommand(command string) HandoffFunc {
	return func() error {
		argv := []string{"sh", "-c", command}
		return syscall.Exec("/bin/sh", argv, os.Environ()) // #nosec G204 -- operator-configured handoff
	}
}
