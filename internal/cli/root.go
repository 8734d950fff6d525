// Package cli implements queuectl's cobra command tree: a "serve"
// subcommand that runs the server in this process, and a set of thin
// HTTP client subcommands that drive a running server's control API.
package cli

import (
	"log"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "queuectl",
	Short: "A single-host background job queue",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "127.0.0.1:7777", "control API address")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(dlqCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(shutdownCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
