package main

import (
	"fmt"
	"os"

	"github.com/cuemby/canopy/pkg/config"
	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/manager"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy - sharded transactional tree datastore",
	Long: `Canopy keeps hierarchical configuration and operational data in
memory, split into shards by path prefix. Transactions may span shards and
datastores and commit atomically; listeners are notified of every commit
that touches their subtree.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Canopy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory of persistent shards")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Canopy version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads --config, falling back to defaults, and applies the
// flags that override it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = log.Level(level)
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Datastore.DataDir = dir
	}
	if cmd.Flags().Lookup("http-addr") != nil && cmd.Flags().Changed("http-addr") {
		cfg.API.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
	}
	if cmd.Flags().Lookup("grpc-addr") != nil && cmd.Flags().Changed("grpc-addr") {
		cfg.API.GRPCAddr, _ = cmd.Flags().GetString("grpc-addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}

// openManager builds the manager and registers the configured shards.
// They may be listed in any order; registering a parent after its children
// moves them below it.
func openManager(cfg *config.Config) (*manager.Manager, error) {
	mgr, err := manager.NewManager(&manager.Config{
		DataDir:               cfg.Datastore.DataDir,
		CommitQueueSize:       cfg.Datastore.CommitQueueSize,
		NotificationQueueSize: cfg.Datastore.NotificationQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	for _, s := range cfg.Datastore.Shards {
		id, err := s.ID()
		if err != nil {
			_ = mgr.Shutdown()
			return nil, err
		}
		if _, err := mgr.RegisterShard(id, manager.ShardOptions{Persistent: s.Persistent}); err != nil {
			_ = mgr.Shutdown()
			return nil, fmt.Errorf("failed to register shard %s: %w", id, err)
		}
	}
	return mgr, nil
}
