package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jra3/contexthub/internal/config"
	"github.com/jra3/contexthub/internal/logging"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <rev>",
	Short: "Restore the store's data directory to a prior snapshot, by tag, commit, or RFC3339 timestamp",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: logging.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	n, err := openNode(cfg)
	if err != nil {
		return fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close()

	rev := args[0]
	if err := n.snapshot.Restore(n.store, rev); err != nil {
		return fmt.Errorf("restore to %q failed: %w", rev, err)
	}
	fmt.Printf("restored data directory to %s\n", rev)
	return nil
}
