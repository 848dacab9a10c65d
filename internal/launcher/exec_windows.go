//go:build windows

package launcher

import (
	"errors"
	"os"
	"os/exec"
)

// ExecServe returns a handoff that runs this binary's subcommand as a
// child and waits for it, since Windows has no exec. A nil return means
// the API server exited cleanly.
func ExecServe(args ...string) HandoffFunc {
	return func() error {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		cmd := exec.Command(exe, args...) // #nosec G204 -- re-executes this binary
		return runHandoff(cmd)
	}
}

// ExecCommand returns a handoff that runs an arbitrary shell command as a
// child and waits for it. It backs the api.command config override.
func ExecCommand(command string) HandoffFunc {
	return func() error {
		cmd := exec.Command("cmd", "/c", command) // #nosec G204 -- operator-configured handoff
		return runHandoff(cmd)
	}
}

func runHandoff(cmd *exec.Cmd) error {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode()}
	}
	return err
}
