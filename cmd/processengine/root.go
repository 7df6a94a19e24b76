package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "processengine",
	Short: "processengine runs BPMN-style process models",
	Long: `processengine executes process models described in YAML files: it walks the
graph, waits on user tasks, messages, signals and timers, and resumes
suspended instances after a restart.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", DefaultConfigFile, "Path to the configuration file")
	rootCmd.PersistentFlags().String("dir", "", "Directory containing the process models (overrides the config file)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides the config file)")
}
