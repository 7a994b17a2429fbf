package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tome",
	Short: "Book metadata enrichment service",
	Long: `Tome enriches book metadata by querying multiple upstream providers
and merging the results into a provider-neutral shape.

It provides:
  - Multi-provider lookup (Google Books, Open Library, ISBNdb) with merging
  - A two-tier cache in front of every lookup
  - Async pipelines for batch enrichment, CSV import, and bookshelf photo
    scanning, with live progress over WebSocket`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tome/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
