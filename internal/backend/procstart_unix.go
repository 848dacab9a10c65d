//go:build !windows

package backend

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// startTimeUnix returns the OS-reported start time of pid as Unix seconds,
// or 0 when unavailable. Two reads for the same live process always agree,
// which makes the value usable as a PID-reuse guard.
func startTimeUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startTimeUnixLinux(pid)
	}
	// Darwin/BSD via gopsutil (sysctl underneath).
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// startTimeUnixLinux combines /proc/<pid>/stat field 22 (start ticks since
// boot) with the boot time from /proc/stat, avoiding any subprocess.
func startTimeUnixLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// The comm field may contain spaces; it ends at the last ") ".
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(line[end+2:]))
	// fields[0] is overall field 3 (state); starttime is overall field 22.
	if len(fields) < 20 {
		return 0
	}
	startTicks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}
	btime := bootTimeUnix()
	if btime == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + startTicks/int64(clk)
}

func bootTimeUnix() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return bt
			}
			return 0
		}
	}
	return 0
}
