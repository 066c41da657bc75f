// Command fieldsyncd runs the sync engine as a local caching reverse proxy in
// front of the application backend, with a control API for foreground
// contexts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:          "fieldsyncd",
	Short:        "Offline-first cache and sync daemon",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
