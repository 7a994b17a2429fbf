package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Tome server via HTTP.

These commands require a running server (tome serve).
Use --server to specify a custom server URL.

Examples:
  tome api health                     # Check server health
  tome api enrich isbn 9780441013593  # Enrich one ISBN
  tome api jobs list                  # List all jobs
  tome api jobs watch <id> <token>    # Stream job progress`,
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Metadata enrichment commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Library import commands",
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Photo scanning commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	for _, ep := range endpoints.EnrichCommands() {
		enrichCmd.AddCommand(ep.Command(getServerURL))
	}
	for _, ep := range endpoints.JobCommands() {
		jobsCmd.AddCommand(ep.Command(getServerURL))
	}
	for _, ep := range endpoints.ImportCommands() {
		importCmd.AddCommand(ep.Command(getServerURL))
	}
	for _, ep := range endpoints.ScanCommands() {
		scanCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand(enrichCmd)
	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(importCmd)
	apiCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(apiCmd)
}
