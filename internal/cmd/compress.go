package cmd

import (
	"context"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jra3/contexthub/internal/config"
	"github.com/jra3/contexthub/internal/logging"
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Run one compress() pass: document GC, WAL compaction, blob GC, index optimize, snapshot",
	RunE:  runCompress,
}

func init() {
	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
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

	stats, err := n.compress.Compress(context.Background())
	if err != nil {
		return fmt.Errorf("compress failed: %w", err)
	}

	fmt.Printf("documents removed: %d\n", stats.DocumentsRemoved)
	fmt.Printf("wal entries removed: %d\n", stats.WALEntriesRemoved)
	fmt.Printf("blobs removed: %d\n", stats.BlobsRemoved)
	fmt.Printf("index docs removed: %d\n", stats.IndexDocsRemoved)
	fmt.Printf("size: %s -> %s\n", humanize.Bytes(uint64(stats.SizeBefore)), humanize.Bytes(uint64(stats.SizeAfter)))
	fmt.Printf("snapshot commit: %s\n", stats.CommitHash)
	return nil
}
