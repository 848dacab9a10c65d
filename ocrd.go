// Package ocrd exposes the OCR service pipeline for embedding: launching a
// vLLM backend and waiting for readiness, serving the OCR HTTP API, and
// recording launch history. The ocrd CLI is a thin wrapper around this
// package.
package ocrd

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocrd-io/ocrd/internal/backend"
	"github.com/ocrd-io/ocrd/internal/config"
	"github.com/ocrd-io/ocrd/internal/history"
	"github.com/ocrd-io/ocrd/internal/history/factory"
	"github.com/ocrd-io/ocrd/internal/launcher"
	"github.com/ocrd-io/ocrd/internal/logger"
	"github.com/ocrd-io/ocrd/internal/metrics"
	"github.com/ocrd-io/ocrd/internal/probe"
	"github.com/ocrd-io/ocrd/internal/server"
	"github.com/ocrd-io/ocrd/internal/vllm"
)

// Aliases for the core types so embedders do not import internal packages.
type (
	Config          = config.Config
	BackendSpec     = backend.Spec
	BackendProcess  = backend.Process
	HistorySink     = history.Sink
	HistoryEvent    = history.Event
	HistoryRecord   = history.Record
	OCRClient       = vllm.Client
	OCRClientConfig = vllm.Config
	OCRResult       = vllm.Result
	APIOptions      = server.Options
	HandoffFunc     = launcher.HandoffFunc
)

// Launch failure modes, for errors.Is checks by embedders.
var (
	ErrBackendExited  = launcher.ErrBackendExited
	ErrStartupTimeout = launcher.ErrStartupTimeout
)

// LoadConfig reads the optional TOML config at path and applies OCR_*
// environment overrides.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Launcher drives a backend from spawn to readiness and, optionally, into a
// handoff.
type Launcher struct {
	inner *launcher.Launcher
}

// LauncherOptions adjust NewLauncher beyond what the config carries.
type LauncherOptions struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Sinks are history DSNs. A sink that cannot be opened is skipped with
	// a warning; launch never fails because an audit target is down.
	Sinks []string
	// Handoff runs after the backend is ready. Nil means Run returns with
	// the backend still alive under the caller's control.
	Handoff HandoffFunc
}

// NewLauncher assembles the launch pipeline the way "ocrd launch" does: the
// child environment is the config's environment plus the injected OCR_*
// variables, readiness is probed on the backend port, and every stage is
// recorded to the configured history sinks.
func NewLauncher(cfg Config, opts LauncherOptions) (*Launcher, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	baseEnv, err := cfg.BuildEnv()
	if err != nil {
		return nil, err
	}
	baseEnv.Set("OCR_API_PORT", strconv.Itoa(cfg.APIPort))
	baseEnv.Set("OCR_VLLM_PORT", strconv.Itoa(cfg.VLLM.Port))
	baseEnv.Set("OCR_VLLM_STARTUP_TIMEOUT_SECONDS", strconv.Itoa(cfg.VLLM.StartupTimeoutSeconds))

	spec := cfg.Backend
	if spec.Capture == (logger.CaptureConfig{}) {
		spec.Capture = cfg.Log.Capture
	}

	var sinks []history.Sink
	for _, dsn := range opts.Sinks {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			log.Warn("history sink disabled", "dsn", dsn, "error", err)
			continue
		}
		sinks = append(sinks, s)
	}

	inner := launcher.New(launcher.Options{
		Spec:        spec,
		Env:         baseEnv.Merge(nil),
		APIPort:     cfg.APIPort,
		BackendPort: cfg.VLLM.Port,
		Timeout:     cfg.StartupTimeout(),
		Handoff:     opts.Handoff,
		Recorder:    history.NewRecorder(log, sinks...),
		Logger:      log,
	})
	return &Launcher{inner: inner}, nil
}

// Run blocks until the backend is ready and the handoff (if any) returns.
// It fails with ErrBackendExited or ErrStartupTimeout when the backend never
// becomes ready.
func (l *Launcher) Run(ctx context.Context) error { return l.inner.Run(ctx) }

// Process returns the spawned backend child once Run has started it.
func (l *Launcher) Process() *BackendProcess { return l.inner.Process() }

// Close flushes and closes the launcher's history sinks.
func (l *Launcher) Close() error { return l.inner.Close() }

// ExecServe returns the handoff "ocrd launch" uses: replace the current
// process image with this binary running the given arguments.
func ExecServe(args ...string) HandoffFunc { return launcher.ExecServe(args...) }

// ExecCommand returns a handoff that runs an operator-supplied shell
// command in place of "ocrd serve".
func ExecCommand(command string) HandoffFunc { return launcher.ExecCommand(command) }

// NewOCRClient creates a client for an OpenAI-compatible vision backend.
func NewOCRClient(cfg OCRClientConfig) *OCRClient { return vllm.New(cfg) }

// NewAPIRouter returns the OCR API as an http.Handler so it can be mounted
// into an existing server or framework.
func NewAPIRouter(opts APIOptions) http.Handler { return server.NewRouter(opts).Handler() }

// NewAPIServer binds addr and serves the OCR API in the background. The
// returned server is already serving; shut it down with Shutdown or Close.
func NewAPIServer(addr string, opts APIOptions) (*http.Server, error) {
	return server.NewServer(addr, opts)
}

// ProbeBackend sends a single readiness probe to the backend port on
// localhost.
func ProbeBackend(ctx context.Context, port int, timeout time.Duration) error {
	return probe.ForPort(port, timeout).Check(ctx)
}

// NewHistorySink opens a launch-event sink from a DSN. Supported schemes are
// sqlite://, postgres://, clickhouse://, opensearch:// and a bare filesystem
// path (treated as sqlite).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// RegisterMetrics registers the ocrd collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers the ocrd collectors with the default
// Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics exposes /metrics on addr using the default registry. It
// blocks in the caller's goroutine, like http.ListenAndServe.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
