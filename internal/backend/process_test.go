package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ocrd-io/ocrd/internal/logger"
)

func waitExit(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(timeout):
		t.Fatalf("child did not exit within %v", timeout)
	}
}

func TestStartAliveAndCleanExit(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "short", Command: "sleep 0.2"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.PID() <= 0 {
		t.Fatalf("PID not recorded")
	}
	if !p.Alive() {
		t.Fatalf("child should be alive right after start")
	}
	waitExit(t, p, 5*time.Second)
	if p.Alive() {
		t.Fatalf("child should be dead after exit")
	}
	if err := p.ExitErr(); err != nil {
		t.Fatalf("clean exit should have nil exit error, got %v", err)
	}
}

func TestCrashIsObservedWithExitError(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "crash", Command: "sh -c 'exit 3'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	if p.Alive() {
		t.Fatalf("crashed child still reported alive")
	}
	err := p.ExitErr()
	if err == nil || !strings.Contains(err.Error(), "3") {
		t.Fatalf("expected exit status 3 in error, got %v", err)
	}
}

func TestStopTerminatesGroup(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "long", Command: "sh -c 'sleep 30'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	_ = p.Stop(2 * time.Second)
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("Stop took too long: %v", elapsed)
	}
	if p.Alive() {
		t.Fatalf("child alive after Stop")
	}
}

func TestStopOnDeadChildIsNoop(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "gone", Command: "sleep 0.1"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop after exit should be nil, got %v", err)
	}
}

func TestKill(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "killed", Command: "sleep 30"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = p.Kill()
	waitExit(t, p, 5*time.Second)
	if p.Alive() {
		t.Fatalf("child alive after Kill")
	}
}

func TestStartTwiceRefused(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "dup", Command: "sleep 0.3"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Kill() }()
	if err := p.Start(nil); err == nil {
		t.Fatalf("second Start should be refused")
	}
}

func TestStartPassesEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "env.out")
	p := New(Spec{
		Name:    "envcheck",
		Command: "sh -c 'printf %s \"$OCR_VLLM_PORT\" > " + out + "'",
	})
	if err := p.Start([]string{"PATH=" + os.Getenv("PATH"), "OCR_VLLM_PORT=8001"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("child output missing: %v", err)
	}
	if string(b) != "8001" {
		t.Fatalf("child saw OCR_VLLM_PORT=%q, want 8001", string(b))
	}
}

func TestCaptureWritesChildOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := New(Spec{
		Name:    "cap",
		Command: "sh -c 'echo out-line; echo err-line 1>&2'",
		Capture: logger.CaptureConfig{Dir: dir},
	})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	outB, err := os.ReadFile(filepath.Join(dir, "cap.stdout.log"))
	if err != nil {
		t.Fatalf("stdout capture missing: %v", err)
	}
	if !strings.Contains(string(outB), "out-line") {
		t.Fatalf("stdout capture content: %q", string(outB))
	}
	errB, err := os.ReadFile(filepath.Join(dir, "cap.stderr.log"))
	if err != nil {
		t.Fatalf("stderr capture missing: %v", err)
	}
	if !strings.Contains(string(errB), "err-line") {
		t.Fatalf("stderr capture content: %q", string(errB))
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "backend.pid")
	p := New(Spec{Name: "pf", Command: "sleep 0.3", PIDFile: pidPath})
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid, _, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("pidfile unreadable right after start: %v", err)
	}
	if pid != p.PID() {
		t.Fatalf("pidfile pid %d != child pid %d", pid, p.PID())
	}
	gotPid, alive, err := AliveFromPIDFile(pidPath)
	if err != nil || !alive || gotPid != pid {
		t.Fatalf("AliveFromPIDFile = (%d, %v, %v), want (%d, true, nil)", gotPid, alive, err, pid)
	}
	waitExit(t, p, 5*time.Second)
	// Reaper removes the pidfile.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pidfile not removed after exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
