package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - streaming LLM gateway",
	Long: `Ganymede is a streaming gateway in front of LLM providers.

It provides:
  - Per-thread conversation history with durable storage
  - Tiered context assembly (cache, store, graceful degradation)
  - Coalescing of identical concurrent requests into one upstream call
  - Per-provider pacing with bounded queueing
  - SSE fan-out with full replay for late joiners`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}
