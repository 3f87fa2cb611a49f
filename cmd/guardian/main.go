package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Content moderation rules and verdict service",
	Long: `guardian evaluates moderation policies against content signals and
turns per-category scores into a single verdict. Run "guardian serve" for
the HTTP API, or use the eval and aggregate commands to try policies locally.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "guardian.yaml", "path to config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newEvalCmd())
	rootCmd.AddCommand(newAggregateCmd())
	rootCmd.AddCommand(newCheckCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
