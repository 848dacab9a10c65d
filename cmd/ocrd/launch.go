package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd"
	"github.com/ocrd-io/ocrd/internal/logger"
	"github.com/ocrd-io/ocrd/internal/metrics"
)

func createLaunchCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Start the backend, wait for readiness, then serve the API",
		Long: `Launch spawns the configured vLLM backend, polls GET /v1/models once per
second until it answers 2xx, and then replaces itself with "ocrd serve" on
the API port. If the backend exits first or the startup budget runs out,
launch stops the child and exits with status 1.

Ports and the startup budget come from the config file and the
OCR_API_PORT, OCR_VLLM_PORT and OCR_VLLM_STARTUP_TIMEOUT_SECONDS
environment variables; the same variables are exported to the backend
child, whose command line may reference ${OCR_VLLM_PORT}. Setting
api.command in the config hands off to that command instead of
"ocrd serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(flags.ConfigPath)
		},
	}
}

func runLaunch(cfgPath string) error {
	cfg, err := ocrd.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handoffArgs := []string{"serve"}
	if cfgPath != "" {
		handoffArgs = append(handoffArgs, "--config", cfgPath)
	}
	handoff := ocrd.ExecServe(handoffArgs...)
	if cfg.API.Command != "" {
		handoff = ocrd.ExecCommand(cfg.API.Command)
	}

	l, err := ocrd.NewLauncher(cfg, ocrd.LauncherOptions{
		Logger:  log,
		Sinks:   cfg.History.Sinks,
		Handoff: handoff,
	})
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	return l.Run(ctx)
}
