package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contexthub",
	Short: "Run and operate a contexthub document node",
	Long:  `contexthub serves a multi-tenant, versioned document store backed by a CRDT-based collaborative core, a write-ahead log, and Git-backed snapshots.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ~/.config/contexthub/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
