package backend

import (
	"os/exec"
	"strings"
	"time"

	"github.com/ocrd-io/ocrd/internal/logger"
)

// Spec describes the inference backend child process.
type Spec struct {
	Name     string               `json:"name" mapstructure:"name"`           // used for capture file names and log records
	Command  string               `json:"command" mapstructure:"command"`     // command line; may reference ${VAR} from the child env
	WorkDir  string               `json:"work_dir" mapstructure:"work_dir"`   // optional working dir
	Env      []string             `json:"env" mapstructure:"env"`             // extra "K=V" entries on top of the inherited environment
	PIDFile  string               `json:"pid_file" mapstructure:"pid_file"`   // optional pidfile path
	Detached bool                 `json:"detached" mapstructure:"detached"`   // start in a new session instead of a new process group
	StopWait time.Duration        `json:"stop_wait" mapstructure:"stop_wait"` // TERM to KILL escalation window
	Capture  logger.CaptureConfig `json:"capture" mapstructure:"capture"`     // stdout/stderr capture destinations
}

// BuildCommand constructs an *exec.Cmd for the spec's command line. A
// command that already invokes a shell explicitly ("sh -c ...") is honored
// without adding another layer; a command containing shell metacharacters
// is wrapped in one so that ${VAR} references and redirections resolve
// against the child environment; anything else runs directly.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return noopCommand()
	}
	if script, ok := stripExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// stripExplicitShell detects a leading "sh -c <ARG>" (with common shell
// paths) and returns the script after "-c", with one pair of surrounding
// quotes removed so the shell sees the actual script.
func stripExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		script := trim[len(p):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') || (script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
