package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trace",
	Short: "NewsTrace - news source credibility tracking system",
	Long: `NewsTrace Unified CLI

Market-verified credibility tracking for news sources.
Opens price-tracking tasks per scored news item, sweeps checkpoints,
evolves feature weights from realized returns, and grades sources.

Usage:
  go run ./cmd/trace [command]

Examples:
  go run ./cmd/trace api
  go run ./cmd/trace scheduler start
  go run ./cmd/trace sweep --as-of 2026-03-15
  go run ./cmd/trace weights`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
