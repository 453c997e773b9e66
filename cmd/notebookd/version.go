package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "notebookd %s\n", server.Version)
			return err
		},
	}
}
