package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/internal/launcher"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var exitErr *launcher.ExitError
		if errors.As(err, &exitErr) {
			// The handed-off API server already reported its own failure.
			os.Exit(exitErr.Code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createLaunchCommand(globalFlags),
		createServeCommand(globalFlags),
		createProbeCommand(globalFlags),
		createOCRCommand(),
		createHistoryCommand(globalFlags),
		createInitCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ocrd",
		Short: "OCR service launcher and API front end",
		Long: `ocrd starts a local vLLM inference backend, waits until it answers
GET /v1/models, and then serves the OCR HTTP API in front of it.

Examples:
  ocrd init --output=ocrd.toml         # write a starter config
  ocrd launch                          # start backend, wait, become the API server
  ocrd serve                           # API server only (backend already running)
  ocrd probe --port=8001               # one-shot readiness check
  ocrd ocr --file=page.png             # submit an image to a running server
  ocrd history --limit=20              # recent launch lifecycle events`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
