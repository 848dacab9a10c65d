package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/internal/config"
	"github.com/ocrd-io/ocrd/internal/probe"
)

func createProbeCommand(flags *GlobalFlags) *cobra.Command {
	var (
		port    int
		timeout time.Duration
		url     string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "One-shot backend readiness check",
		Long: `Probe sends a single GET /v1/models to the backend and exits 0 when it
answers 2xx, 1 otherwise.

Examples:
  ocrd probe
  ocrd probe --port=9101 --timeout=5s
  ocrd probe --url=http://10.0.0.5:8001/v1/models`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pr probe.Prober
			switch {
			case url != "":
				pr = probe.New(url, timeout)
			case port > 0:
				pr = probe.ForPort(port, timeout)
			default:
				cfg, err := config.Load(flags.ConfigPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				pr = probe.ForPort(cfg.VLLM.Port, timeout)
			}
			if err := pr.Check(cmd.Context()); err != nil {
				return fmt.Errorf("not ready: %w", err)
			}
			fmt.Println("ready")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "backend port (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", probe.DefaultTimeout, "probe timeout")
	cmd.Flags().StringVar(&url, "url", "", "full readiness URL (overrides --port)")
	return cmd
}
