package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/canopy/pkg/manager"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a command file",
	Long: `Apply a YAML file of write, merge and delete commands as one
transaction. Only shards declared persistent keep the result; the server
must not be running on the same data directory.

Example file:
  commands:
    - op: write
      path: /network/eth0
      value:
        mtu: 1500
    - op: delete
      datastore: operational
      path: /stats/eth1

Examples:
  canopy apply -f changes.yaml --config canopy.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().Duration("timeout", 30*time.Second, "Commit timeout")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	cmds, err := manager.ParseCommands(data)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Datastore.DataDir == "" {
		return fmt.Errorf("apply needs a data directory with persistent shards")
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := mgr.Apply(ctx, cmds); err != nil {
		return fmt.Errorf("failed to apply %s: %w", filename, err)
	}

	fmt.Printf("✓ Applied %d commands\n", len(cmds))
	return nil
}
