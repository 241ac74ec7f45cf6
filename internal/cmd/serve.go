package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jra3/contexthub/internal/config"
	"github.com/jra3/contexthub/internal/logging"
	"github.com/jra3/contexthub/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a contexthub node: store, WAL, blob resolver, snapshot manager, and the compress monitor loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	level := logging.Level(cfg.Log.Level)
	if debug {
		level = logging.DebugLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: cfg.Log.JSON})
	log := logging.WithComponent("serve")

	n, err := openNode(cfg)
	if err != nil {
		return fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close()

	metrics.MustRegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.compress.Start(ctx)
	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("snapshot_dir", cfg.SnapshotDir).
		Msg("contexthub node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	n.compress.Stop()
	cancel()
	return nil
}
