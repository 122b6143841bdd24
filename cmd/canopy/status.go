package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/canopy/pkg/client"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is serving",
	Long: `Query the gRPC health service of a running server.

Examples:
  canopy status --server localhost:9091
  canopy status --wait --timeout 1m`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("server", "127.0.0.1:9091", "gRPC address of the server")
	statusCmd.Flags().Bool("wait", false, "Wait until the server is serving")
	statusCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("server")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if wait {
		if err := c.WaitServing(ctx); err != nil {
			return fmt.Errorf("server %s did not become ready: %w", addr, err)
		}
	}
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", addr, err)
	}

	fmt.Printf("%s: %s\n", addr, status)
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server is not serving")
	}
	return nil
}
