package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/processengine"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of processengine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "processengine version %s\n", strings.TrimSpace(processengine.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
