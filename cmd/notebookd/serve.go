package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/server"
)

func newServeCmd() *cobra.Command {
	var (
		port string
		root string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over HTTP and the push channel",
		Long:  "Serve the workspace. Settings come from the environment (PORT, WORKSPACE_ROOT, KERNEL_COMMAND, ...); flags override them.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("root") {
				cfg.Workspace.Root = root
			}

			logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
			srv, err := server.NewServer(cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return err
			}
			defer func() { err = multierr.Append(err, srv.Close()) }()

			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port")
	cmd.Flags().StringVar(&root, "root", "", "workspace root directory")
	return cmd
}
