package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for backend capture files.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config selects the format and level of ocrd's own log records and the
// capture destinations for the spawned backend's stdout/stderr.
type Config struct {
	Level   string        `mapstructure:"level"`  // debug|info|warn|error
	Format  string        `mapstructure:"format"` // text|json
	Capture CaptureConfig `mapstructure:"capture"`
}

// CaptureConfig describes rotating files that receive the backend child's
// output. If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. Rotation parameters
// follow lumberjack semantics.
type CaptureConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout_path"`
	StderrPath string `mapstructure:"stderr_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Writers returns rotating io.WriteClosers for the backend's stdout and
// stderr. Either writer is nil when no path can be derived for it.
func (c CaptureConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.rotating(stdout)
	}
	if stderr != "" {
		errW = c.rotating(stderr)
	}
	return outW, errW, nil
}

func (c CaptureConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a slog.Logger writing to w. Format "json" produces JSON
// records for log shippers; anything else produces colorized text for
// terminals.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(NewColorHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
