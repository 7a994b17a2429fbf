package main

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/server"
)

var (
	serveAddr string
	logLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tome server",
	Long: `Start the Tome HTTP server.

Without a postgres DSN configured, cache entries and job state live in
memory only and do not survive a restart.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (includes provider registry status)
  - /metrics - Prometheus metrics
  - /api/... - Enrichment and pipeline endpoints

Examples:
  tome serve                       # Start on default :8080
  tome serve --addr 0.0.0.0:3000   # Bind to all interfaces on port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level := log.InfoLevel
		if parsed, err := log.ParseLevel(logLevel); err == nil {
			level = parsed
		}
		logger := slog.New(log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           level,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		srv, err := server.New(server.Config{
			Addr:          serveAddr,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
}
