package main

import (
	"fmt"

	"github.com/apimeter/apimeter/bootstrap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the accounting server",
	Long: `Start the HTTP server with the accounting pipeline, the retention
scheduler, and config hot reload (file watch + SIGHUP).

Examples:
  apimeter serve
  apimeter serve --config=/etc/apimeter/apimeter.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return app.Run()
}
