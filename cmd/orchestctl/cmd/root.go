// Package cmd implements orchestctl, the command-line client for the
// orchestrator's HTTP gateway: submit jobs, approve or unlock ones
// stuck on a human gate, and watch a run to completion.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// serverAddr is the base URL of the orchestrator-gateway, shared by
// every subcommand via a persistent flag.
var serverAddr string

var rootCmd = &cobra.Command{
	Use:     "orchestctl",
	Short:   "Submit and track jobs on the orchestrator",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8080", "orchestrator-gateway base URL")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
