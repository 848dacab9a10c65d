package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ocrd-io/ocrd/internal/history"
	"github.com/ocrd-io/ocrd/internal/history/sqlite"
)

func TestHelpExitsZero(t *testing.T) {
	cmd := exec.Command("go", "run", ".", "--help")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("help should succeed: %v, out=%s", err, out)
	}
	if !strings.Contains(string(out), "ocrd") {
		t.Fatalf("unexpected help output: %s", out)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ocrd.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected exit error, got %T: %v", err, err)
	}
	return ee.ExitCode()
}

// A backend that never answers must make launch exit 1 with the timeout
// message on stderr.
func TestLaunchTimeoutExitsOne(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
	cfg := writeConfig(t, fmt.Sprintf(`
[log]
level = "error"

[backend]
command = "sleep 30"
stop_wait = "1s"
pid_file = %q

[vllm]
port = 59121
startup_timeout_seconds = 1
`, filepath.Join(t.TempDir(), "backend.pid")))

	cmd := exec.Command("go", "run", ".", "launch", "--config", cfg)
	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code = %d, want 1; out=%s", code, out)
	}
	if !strings.Contains(string(out), "timed out waiting for readiness") {
		t.Fatalf("missing timeout message in output: %s", out)
	}
}

// A backend that dies during startup must make launch exit 1 with the
// backend-exited message.
func TestLaunchBackendExitExitsOne(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix shell")
	}
	cfg := writeConfig(t, fmt.Sprintf(`
[log]
level = "error"

[backend]
command = "sh -c 'exit 3'"
stop_wait = "1s"
pid_file = %q

[vllm]
port = 59122
startup_timeout_seconds = 30
`, filepath.Join(t.TempDir(), "backend.pid")))

	cmd := exec.Command("go", "run", ".", "launch", "--config", cfg)
	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code = %d, want 1; out=%s", code, out)
	}
	if !strings.Contains(string(out), "backend exited before becoming ready") {
		t.Fatalf("missing backend-exited message in output: %s", out)
	}
}

// With api.command set, a ready backend hands off to that command instead
// of "ocrd serve".
func TestLaunchHandoffCommandOverride(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix exec")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"m"}]}`))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	cfg := writeConfig(t, fmt.Sprintf(`
[log]
level = "error"

[backend]
command = "sleep 5"
stop_wait = "1s"
pid_file = %q

[vllm]
port = %s
startup_timeout_seconds = 10

[api]
command = "echo handed-off"
`, filepath.Join(t.TempDir(), "backend.pid"), u.Port()))

	out, err := exec.Command("go", "run", ".", "launch", "--config", cfg).CombinedOutput()
	if err != nil {
		t.Fatalf("launch should exit 0 after the handoff command finishes: %v, out=%s", err, out)
	}
	if !strings.Contains(string(out), "handed-off") {
		t.Fatalf("handoff command output missing: %s", out)
	}
}

func TestProbeReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"m"}]}`))
	}))
	defer srv.Close()

	cmd := exec.Command("go", "run", ".", "probe", "--url", srv.URL)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("probe should succeed: %v, out=%s", err, out)
	}
	if !strings.Contains(string(out), "ready") {
		t.Fatalf("probe output = %s", out)
	}
}

func TestProbeNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cmd := exec.Command("go", "run", ".", "probe", "--url", srv.URL)
	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code = %d, want 1; out=%s", code, out)
	}
	if !strings.Contains(string(out), "not ready") {
		t.Fatalf("probe output = %s", out)
	}
}

func TestHistoryListsRecentEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("sqlite sink: %v", err)
	}
	rec := history.Record{LaunchID: "launch-e2e", Command: "sleep 1", PID: 4242, APIPort: 8000, BackendPort: 8001}
	for _, typ := range []history.EventType{history.EventLaunchStarted, history.EventBackendReady} {
		if err := sink.Send(context.Background(), history.NewEvent(typ, rec)); err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	cmd := exec.Command("go", "run", ".", "history", "--dsn", dbPath, "--limit", "10")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("history should succeed: %v, out=%s", err, out)
	}
	if !strings.Contains(string(out), "launch-e2e") || !strings.Contains(string(out), string(history.EventBackendReady)) {
		t.Fatalf("history output missing events: %s", out)
	}
}

func TestHistoryWithoutSinkFails(t *testing.T) {
	cmd := exec.Command("go", "run", ".", "history")
	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code = %d, want 1; out=%s", code, out)
	}
	if !strings.Contains(string(out), "no sqlite history sink") {
		t.Fatalf("output = %s", out)
	}
}

func TestInitWritesConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ocrd.toml")
	o, err := exec.Command("go", "run", ".", "init", "--profile", "tls", "--output", out).CombinedOutput()
	if err != nil {
		t.Fatalf("init: %v, out=%s", err, o)
	}
	data, err := os.ReadFile(out) // #nosec G304 -- test temp path
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"api_port", "[vllm]", "[api.tls]"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("generated config missing %q:\n%s", want, data)
		}
	}
	// A second run without --force must refuse to overwrite.
	if o, err := exec.Command("go", "run", ".", "init", "--output", out).CombinedOutput(); err == nil {
		t.Fatalf("expected overwrite refusal, got: %s", o)
	}
}

func TestOCRRequiresFileFlag(t *testing.T) {
	cmd := exec.Command("go", "run", ".", "ocr")
	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code = %d, want 1; out=%s", code, out)
	}
	if !strings.Contains(string(out), "file") {
		t.Fatalf("output should mention the missing flag: %s", out)
	}
}

func TestFirstSQLiteDSN(t *testing.T) {
	tests := []struct {
		sinks []string
		want  string
	}{
		{nil, ""},
		{[]string{"postgres://u:p@h/db"}, ""},
		{[]string{"sqlite:///var/lib/ocrd/history.db"}, "sqlite:///var/lib/ocrd/history.db"},
		{[]string{"clickhouse://h:9000", "/var/lib/ocrd/history.db"}, "/var/lib/ocrd/history.db"},
		{[]string{"", "sqlite://x.db"}, "sqlite://x.db"},
	}
	for _, tt := range tests {
		if got := firstSQLiteDSN(tt.sinks); got != tt.want {
			t.Fatalf("firstSQLiteDSN(%v) = %q, want %q", tt.sinks, got, tt.want)
		}
	}
}

