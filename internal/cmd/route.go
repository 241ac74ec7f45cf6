package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jra3/contexthub/internal/config"
	"github.com/jra3/contexthub/internal/shard"
)

var routeCmd = &cobra.Command{
	Use:   "route <user-id>",
	Short: "Show which shard the configured ring routes a user id to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
}

// routerFromConfig seeds a shard.Router from the static topology in
// cfg.Shards. There is no coordination service in this repo's scope, so
// the router a standalone node consults is just whatever its own config
// file lists.
func routerFromConfig(cfg *config.Config) *shard.Router {
	r := shard.New()
	for _, sc := range cfg.Shards {
		r.Register(shard.Info{
			ID:       sc.ID,
			Address:  sc.Address,
			Status:   shard.Status(sc.Status),
			Capacity: sc.Capacity,
			Replicas: sc.Replicas,
		})
	}
	return r
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r := routerFromConfig(cfg)
	if r.RingSize() == 0 {
		return fmt.Errorf("no shards configured; add a shards: section to the config file")
	}

	userID := args[0]
	shardID, err := r.RouteUser(userID)
	if err != nil {
		return fmt.Errorf("routing %q failed: %w", userID, err)
	}

	info, _ := r.ShardInfo(shardID)
	fmt.Printf("user %q -> shard %d (%s, %s)\n", userID, shardID, info.Address, info.Status)
	return nil
}
