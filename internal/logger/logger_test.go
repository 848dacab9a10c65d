package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWritersWithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := CaptureConfig{Dir: dir}
	outW, errW, err := cfg.Writers("vllm")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(filepath.Join(dir, "vllm.stdout.log")); err != nil {
		t.Fatalf("stdout capture not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vllm.stderr.log")); err != nil {
		t.Fatalf("stderr capture not created: %v", err)
	}
}

func TestWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "s.out.log")
	ep := filepath.Join(dir, "s.err.log")
	cfg := CaptureConfig{Dir: filepath.Join(dir, "unused"), StdoutPath: sp, StderrPath: ep}
	outW, errW, err := cfg.Writers("ignored")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	_, _ = outW.Write([]byte("x"))
	_, _ = errW.Write([]byte("y"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(sp); err != nil {
		t.Fatalf("explicit stdout path not created: %v", err)
	}
	if _, err := os.Stat(ep); err != nil {
		t.Fatalf("explicit stderr path not created: %v", err)
	}
}

func TestWritersDefaultsAndOverrides(t *testing.T) {
	outW, errW, _ := CaptureConfig{}.Writers("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers with no destinations configured")
	}

	outW, errW, _ = CaptureConfig{StdoutPath: "x", StderrPath: "y"}.Writers("n")
	ol, ok1 := outW.(*lj.Logger)
	el, ok2 := errW.(*lj.Logger)
	if !ok1 || !ok2 {
		t.Fatalf("writers are not lumberjack loggers")
	}
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != DefaultMaxBackups || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	if el.Compress {
		t.Fatalf("compress should default off")
	}

	outW, _, _ = CaptureConfig{StdoutPath: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writers("n")
	ol = outW.(*lj.Logger)
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("overrides not applied: %+v", ol)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")
	log.Info("started", "api_port", 8000)
	line := buf.String()
	if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"api_port":8000`) {
		t.Fatalf("expected JSON record, got %q", line)
	}
}

func TestNewTextFormatColorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "text")
	log.Warn("watch out")
	// TextHandler quotes the message, so the ANSI escape shows up as \x1b.
	if !strings.Contains(buf.String(), `\x1b[33mWARN\x1b[0m`) {
		t.Fatalf("expected colored WARN prefix, got %q", buf.String())
	}
}

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "error", "json")
	log.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at error level: %q", buf.String())
	}
	log.Error("kept")
	if buf.Len() == 0 {
		t.Fatalf("error record missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
