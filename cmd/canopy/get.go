package main

import (
	"fmt"
	"os"

	"github.com/cuemby/canopy/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print a subtree as YAML",
	Long: `Print the committed subtree at a path from the persistent shards
of a data directory.

Examples:
  canopy get --path /network --config canopy.yaml
  canopy get --datastore operational --path /stats --data-dir ./data`,
	RunE: runGet,
}

func init() {
	getCmd.Flags().String("datastore", string(types.Config), "Datastore (config or operational)")
	getCmd.Flags().String("path", "/", "Path of the subtree")

	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	ds, _ := cmd.Flags().GetString("datastore")
	p, _ := cmd.Flags().GetString("path")

	kind, err := types.ParseDatastoreType(ds)
	if err != nil {
		return err
	}
	path, err := types.ParsePath(p)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	node, found, err := mgr.Read(kind, path)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no data at %s:%s", kind, path)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(types.ToValue(node)); err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	return enc.Close()
}
