package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebookd/internal/domain/export"
	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
)

func newExportCmd() *cobra.Command {
	var (
		format      string
		output      string
		includeCode bool
	)
	cmd := &cobra.Command{
		Use:   "export NOTEBOOK",
		Short: "Render a notebook file as HTML or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			doc, err := notebook.Open(path, notebook.Options{})
			if err != nil {
				return err
			}
			nb := doc.Snapshot()

			var body []byte
			switch format {
			case "html":
				body, err = export.HTML(nb, export.HTMLOptions{
					Title:       export.Title(path),
					IncludeCode: includeCode,
				})
			case "md", "markdown":
				body, err = export.Markdown(nb, export.Title(path))
			default:
				return fmt.Errorf("unknown format %q (want html or md)", format)
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, body)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "html", "output format: html or md")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&includeCode, "include-code", false, "include cell code in HTML output")
	return cmd
}

func writeOutput(stdout io.Writer, path string, body []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
