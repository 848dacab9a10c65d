package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocrd-io/ocrd/pkg/client"
)

func createOCRCommand() *cobra.Command {
	var (
		file    string
		server  string
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Submit an image to a running OCR server",
		Long: `OCR uploads one image to POST /v1/ocr and prints the extracted markdown.

Examples:
  ocrd ocr --file=page.png
  ocrd ocr --file=scan.jpg --server=http://10.0.0.5:8000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: server, Timeout: timeout})
			res, err := c.OCRFile(cmd.Context(), file)
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(res)
				return nil
			}
			fmt.Println(res.Markdown)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image file to submit (required)")
	cmd.Flags().StringVar(&server, "server", "", "OCR API base URL (default http://localhost:8000)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full JSON response")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	return cmd
}
