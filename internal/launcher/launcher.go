// Package launcher drives a backend from spawn to ready and then hands the
// process over to the API server.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ocrd-io/ocrd/internal/backend"
	"github.com/ocrd-io/ocrd/internal/history"
	"github.com/ocrd-io/ocrd/internal/metrics"
	"github.com/ocrd-io/ocrd/internal/probe"
)

// Terminal launch failures. Both map to the same exit code in the CLI so
// an outer supervisor sees a single failure mode; the message tells a
// human which one it was.
var (
	ErrBackendExited  = errors.New("backend exited before becoming ready")
	ErrStartupTimeout = errors.New("timed out waiting for readiness")
)

// DefaultPollInterval is the readiness probe cadence.
const DefaultPollInterval = time.Second

// ExitError carries the API server's exit status through the Windows
// spawn-and-wait handoff so the CLI can forward it. The Unix exec handoff
// never produces one.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("api server exited with status %d", e.Code)
}

// HandoffFunc transfers control to the API server once the backend is
// ready. On Unix the default handoff replaces the process image and does
// not return on success.
type HandoffFunc func() error

// Options configure a single launch.
type Options struct {
	Spec        backend.Spec
	Env         []string // full child environment, "K=V" form
	APIPort     int
	BackendPort int
	Timeout     time.Duration // readiness budget

	PollInterval time.Duration // defaults to DefaultPollInterval
	Prober       probe.Prober  // defaults to the /v1/models probe on BackendPort
	Handoff      HandoffFunc   // nil means return once ready, leaving the backend running
	Recorder     *history.Recorder
	Logger       *slog.Logger
}

// Launcher drives one backend launch. It is single-use: create a new one
// per launch.
type Launcher struct {
	opts   Options
	proc   *backend.Process
	probes int
	rec    history.Record
}

func New(opts Options) *Launcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Prober == nil {
		opts.Prober = probe.ForPort(opts.BackendPort, probe.DefaultTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = history.NewRecorder(opts.Logger)
	}
	return &Launcher{opts: opts}
}

// Process exposes the spawned backend. It is nil before Run and owned by
// the caller after a nil-handoff Run returns successfully.
func (l *Launcher) Process() *backend.Process { return l.proc }

// Close flushes and closes the history recorder. Call it after Run unless
// the handoff replaced the process image, in which case nothing is left to
// close.
func (l *Launcher) Close() error { return l.opts.Recorder.Close() }

// Run spawns the backend, probes it once per interval until a probe
// passes, and hands off. Failed probes are absorbed observations, never
// terminal; the launch only fails when the backend exits, the budget runs
// out, or ctx is canceled.
func (l *Launcher) Run(ctx context.Context) error {
	log := l.opts.Logger

	if l.opts.Spec.PIDFile != "" {
		if pid, alive, err := backend.AliveFromPIDFile(l.opts.Spec.PIDFile); err == nil && alive {
			log.Warn("pidfile points at a live process; a previous backend may still be running",
				"pid_file", l.opts.Spec.PIDFile, "pid", pid)
		}
	}

	l.rec = history.Record{
		LaunchID:    uuid.NewString(),
		Command:     l.opts.Spec.Command,
		APIPort:     l.opts.APIPort,
		BackendPort: l.opts.BackendPort,
	}

	l.proc = backend.New(l.opts.Spec)
	if err := l.proc.Start(l.opts.Env); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	started := time.Now()
	deadlineAt := started.Add(l.opts.Timeout)
	l.rec.PID = l.proc.PID()
	log.Info("backend started",
		"launch_id", l.rec.LaunchID, "pid", l.rec.PID,
		"command", l.opts.Spec.Command, "timeout", l.opts.Timeout)
	l.record(history.EventLaunchStarted, "")

	deadline := time.NewTimer(l.opts.Timeout)
	defer deadline.Stop()

	for {
		if l.exitedNow() {
			return l.failBackendExited()
		}
		if !time.Now().Before(deadlineAt) {
			return l.failTimeout()
		}

		l.probes++
		l.rec.Probes = l.probes
		err := l.opts.Prober.Check(ctx)
		metrics.IncProbe(err == nil)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return l.failCanceled(ctx)
		}
		log.Debug("backend not ready", "probe", l.probes, "error", err)

		select {
		case <-ctx.Done():
			return l.failCanceled(ctx)
		case <-l.proc.Exited():
			return l.failBackendExited()
		case <-deadline.C:
			return l.failTimeout()
		case <-time.After(l.opts.PollInterval):
		}
	}

	elapsed := time.Since(started)
	metrics.ObserveReadiness(elapsed.Seconds())
	metrics.IncLaunchOutcome(metrics.OutcomeReady)
	log.Info("backend ready",
		"launch_id", l.rec.LaunchID, "pid", l.rec.PID,
		"probes", l.probes, "elapsed", elapsed.Round(time.Millisecond))
	l.record(history.EventBackendReady, "")

	if l.opts.Handoff == nil {
		return nil
	}
	l.record(history.EventHandoff, "")
	log.Info("handing off to api server", "api_port", l.opts.APIPort)
	if err := l.opts.Handoff(); err != nil {
		_ = l.proc.Stop(l.opts.Spec.StopWait)
		return fmt.Errorf("handoff to api server: %w", err)
	}
	return nil
}

// exitedNow is the non-blocking form of waiting on the reaper.
func (l *Launcher) exitedNow() bool {
	select {
	case <-l.proc.Exited():
		return true
	default:
		return false
	}
}

func (l *Launcher) failBackendExited() error {
	detail := "exited cleanly"
	if err := l.proc.ExitErr(); err != nil {
		detail = err.Error()
	}
	metrics.IncLaunchOutcome(metrics.OutcomeBackendExited)
	l.opts.Logger.Error("backend exited before becoming ready",
		"launch_id", l.rec.LaunchID, "pid", l.rec.PID, "probes", l.probes, "detail", detail)
	l.record(history.EventBackendExited, detail)
	return ErrBackendExited
}

func (l *Launcher) failTimeout() error {
	detail := fmt.Sprintf("no passing probe within %s (%d sent)", l.opts.Timeout, l.probes)
	metrics.IncLaunchOutcome(metrics.OutcomeTimeout)
	l.opts.Logger.Error("timed out waiting for readiness",
		"launch_id", l.rec.LaunchID, "pid", l.rec.PID, "probes", l.probes, "timeout", l.opts.Timeout)
	l.record(history.EventLaunchTimeout, detail)
	_ = l.proc.Stop(l.opts.Spec.StopWait)
	return ErrStartupTimeout
}

func (l *Launcher) failCanceled(ctx context.Context) error {
	l.opts.Logger.Info("launch interrupted, stopping backend",
		"launch_id", l.rec.LaunchID, "pid", l.rec.PID)
	_ = l.proc.Stop(l.opts.Spec.StopWait)
	return ctx.Err()
}

func (l *Launcher) record(t history.EventType, detail string) {
	rec := l.rec
	rec.Detail = detail
	l.opts.Recorder.Record(history.NewEvent(t, rec))
}
