// Package main is the entry point for the llmgate CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmgate",
		Short:         "A multi-dialect reverse proxy gateway for LLM provider APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (default: $XDG_CONFIG_HOME/llmgate/config.json)")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), statusCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("llmgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
