package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/internal/config"
	"github.com/ocrd-io/ocrd/internal/history/sqlite"
)

func createHistoryCommand(flags *GlobalFlags) *cobra.Command {
	var (
		dsn   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent launch lifecycle events",
		Long: `History reads launch events (launch_started, backend_ready,
backend_exited, launch_timeout, handoff) from a sqlite history sink and
prints them newest first.

Examples:
  ocrd history --config=ocrd.toml
  ocrd history --dsn=sqlite:///var/lib/ocrd/history.db --limit=50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := dsn
			if target == "" {
				cfg, err := config.Load(flags.ConfigPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				target = firstSQLiteDSN(cfg.History.Sinks)
			}
			if target == "" {
				return fmt.Errorf("no sqlite history sink configured; pass --dsn")
			}
			sink, err := sqlite.New(target)
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			events, err := sink.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printJSON(events)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "sqlite DSN or file path (default: first sqlite sink in config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to list")
	return cmd
}

// firstSQLiteDSN picks the sink the history command can actually read:
// sqlite DSNs or bare file paths.
func firstSQLiteDSN(sinks []string) string {
	for _, dsn := range sinks {
		if dsn == "" {
			continue
		}
		if strings.HasPrefix(dsn, "sqlite://") || !strings.Contains(dsn, "://") {
			return dsn
		}
	}
	return ""
}
