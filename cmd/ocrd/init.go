package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/pkg/template"
)

// InitFlags holds flags for the init command.
type InitFlags struct {
	Profile     string
	Output      string
	Model       string
	APIPort     int
	BackendPort int
	Force       bool
}

func createInitCommand() *cobra.Command {
	flags := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Init renders a starter ocrd.toml for a deployment profile.

Supported profiles:
  local - single machine, sqlite launch history
  gpu   - multi-GPU vLLM with a larger startup budget
  tls   - local plus HTTPS on the API listener

Examples:
  ocrd init
  ocrd init --profile=gpu --model=Qwen/Qwen2.5-VL-7B-Instruct --output=ocrd.toml
  ocrd init --profile=tls --output=/etc/ocrd/ocrd.toml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(flags)
		},
	}
	cmd.Flags().StringVar(&flags.Profile, "profile", "local", "deployment profile: local, gpu, tls")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output file path (defaults to stdout)")
	cmd.Flags().StringVar(&flags.Model, "model", "", "served model id (empty resolves from the backend)")
	cmd.Flags().IntVar(&flags.APIPort, "api-port", 0, "API port (default 8000)")
	cmd.Flags().IntVar(&flags.BackendPort, "vllm-port", 0, "backend port (default 8001)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}

func runInit(flags *InitFlags) error {
	text, err := template.Generate(template.Profile(flags.Profile), template.Options{
		APIPort:     flags.APIPort,
		BackendPort: flags.BackendPort,
		Model:       flags.Model,
	})
	if err != nil {
		return err
	}
	if flags.Output == "" {
		fmt.Print(text)
		return nil
	}
	if !flags.Force {
		if _, err := os.Stat(flags.Output); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", flags.Output)
		}
	}
	if err := os.WriteFile(flags.Output, []byte(text), 0o644); err != nil { // #nosec G306 -- config file, not a secret
		return err
	}
	fmt.Println("wrote", flags.Output)
	return nil
}
