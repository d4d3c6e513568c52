package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zeus-ia/zeus"
)

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides ZEUS_PORT)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, MCP endpoint and automation worker",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return err
	}

	app, err := zeus.New(
		zeus.WithVersion(version),
		zeus.WithLogger(slog.Default()),
		zeus.WithPort(port),
	)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return app.Run(cmd.Context())
}
