package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// pidMeta is the second pidfile line. The recorded start time lets readers
// reject a reused PID.
type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// writePIDFile records "<pid>\n{"start_unix":N}\n". Best-effort.
func writePIDFile(path string, pid int, startUnix int64) {
	if path == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	meta, _ := json.Marshal(pidMeta{StartUnix: startUnix})
	_ = os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"+string(meta)+"\n"), 0o600)
}

func removePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// ReadPIDFile parses a pidfile written by Start. Legacy files holding only
// a PID yield startUnix 0.
func ReadPIDFile(path string) (pid int, startUnix int64, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		var m pidMeta
		if json.Unmarshal([]byte(rest), &m) == nil {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}

// AliveFromPIDFile reports whether the pidfile points at a live process
// that is still the one recorded (start-time identity check). A missing
// file means not alive, without error.
func AliveFromPIDFile(path string) (pid int, alive bool, err error) {
	pid, startUnix, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if startUnix > 0 {
		if cur := startTimeUnix(pid); cur > 0 && cur != startUnix {
			return pid, false, nil
		}
	}
	// A zombie stays visible to kill(0) but is not a live backend. This
	// matters after handoff, where nothing reaps the inherited child.
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return pid, false, nil
	}
	return pid, processExists(pid), nil
}
