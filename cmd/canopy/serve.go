package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/canopy/pkg/api"
	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the datastore server",
	Long: `Run the datastore with the shards declared in the configuration
file and serve health, metrics and data over HTTP and gRPC.

Examples:
  # In-memory datastore with default listeners
  canopy serve

  # Persistent shards and custom listeners
  canopy serve --config canopy.yaml --data-dir /var/lib/canopy`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", "", "Address for the HTTP API (empty disables it)")
	serveCmd.Flags().String("grpc-addr", "", "Address for the gRPC health service (empty disables it)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("server")

	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	logger.Info().
		Int("shards", len(mgr.Shards())).
		Str("data_dir", cfg.Datastore.DataDir).
		Msg("datastore started")

	collector := metrics.NewCollector(mgr)
	collector.Start()

	errCh := make(chan error, 2)

	var httpServer *api.HTTPServer
	if cfg.API.HTTPAddr != "" {
		httpServer = api.NewHTTPServer(mgr)
		go func() {
			if err := httpServer.Start(cfg.API.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPCAddr != "" {
		grpcServer = api.NewGRPCServer()
		go func() {
			if err := grpcServer.Start(cfg.API.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
		grpcServer.SetServing(true)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("listener failed, shutting down")
	}

	if grpcServer != nil {
		grpcServer.Stop()
	}
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		cancel()
	}
	collector.Stop()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}
