package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/internal/backend"
	"github.com/ocrd-io/ocrd/internal/config"
	"github.com/ocrd-io/ocrd/internal/logger"
	"github.com/ocrd-io/ocrd/internal/metrics"
	"github.com/ocrd-io/ocrd/internal/server"
	itls "github.com/ocrd-io/ocrd/internal/tls"
	"github.com/ocrd-io/ocrd/internal/vllm"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the OCR API in front of a running backend",
		Long: `Serve waits for the backend to answer GET /v1/models, resolves the served
model id when none is configured, and then exposes the OCR API. This is the
process "ocrd launch" becomes after a successful handoff, and it can also
run standalone against an already running backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags.ConfigPath)
		},
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
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

	client := vllm.New(vllm.Config{
		BaseURL:     cfg.BackendBaseURL(),
		APIKey:      cfg.VLLM.APIKey,
		Model:       cfg.VLLM.Model,
		Prompt:      cfg.VLLM.Prompt,
		MaxTokens:   cfg.VLLM.MaxTokens,
		Temperature: cfg.VLLM.Temperature,
		TopP:        cfg.VLLM.TopP,
		TopK:        cfg.VLLM.TopK,
		Timeout:     cfg.RequestTimeout(),
		Verify:      cfg.VLLM.VerifyStartup,
		Logger:      log,
	})

	log.Info("waiting for backend", "base_url", cfg.BackendBaseURL(), "timeout", cfg.StartupTimeout())
	if err := client.StartupCheck(ctx, cfg.StartupTimeout()); err != nil {
		return fmt.Errorf("backend startup check: %w", err)
	}

	sampler := metrics.NewSampler(cfg.Sampler)
	if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("sampler metrics registration failed", "error", err)
	}
	sampler.Start(ctx, pidFromFile(cfg.Backend.PIDFile))
	defer sampler.Stop()

	if cfg.MetricsListen != "" {
		msrv, err := server.NewMetricsServer(cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics listener %s: %w", cfg.MetricsListen, err)
		}
		defer func() { _ = msrv.Close() }()
		log.Info("metrics listening", "addr", cfg.MetricsListen)
	}

	tlsCfg, err := itls.Setup(cfg.API.TLS)
	if err != nil {
		return fmt.Errorf("api tls: %w", err)
	}

	srv, err := server.NewServer(cfg.ListenAddr(), server.Options{
		Client:         client,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout(),
		PIDFile:        cfg.Backend.PIDFile,
		Sampler:        sampler,
		TLS:            tlsCfg,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.ListenAddr(), err)
	}
	log.Info("ocr api listening", "addr", cfg.ListenAddr(), "model", client.Model(), "tls", tlsCfg != nil)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pidFromFile resolves the backend pid on every sample tick. The launch
// process execs into serve, so the child relationship is gone and the
// pidfile is the only trail back to the backend.
func pidFromFile(path string) func() int32 {
	return func() int32 {
		if path == "" {
			return 0
		}
		pid, alive, err := backend.AliveFromPIDFile(path)
		if err != nil || !alive {
			return 0
		}
		return int32(pid)
	}
}
