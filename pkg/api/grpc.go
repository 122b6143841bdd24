package api

import (
	"fmt"
	"net"

	"github.com/cuemby/canopy/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DatastoreService is the service name reported by the gRPC health server
const DatastoreService = "canopy.Datastore"

// GRPCServer serves the standard gRPC health service. Load balancers and
// orchestrators probe it to find out whether the datastore accepts
// transactions.
type GRPCServer struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewGRPCServer creates the gRPC server. It reports NOT_SERVING until
// SetServing is called.
func NewGRPCServer() *GRPCServer {
	s := &GRPCServer{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(RecoveryInterceptor(), LoggingInterceptor()),
		),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing updates the status of the overall server and of the
// datastore service
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(DatastoreService, status)
}

// Start listens on addr and serves until Stop
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop
func (s *GRPCServer) Serve(lis net.Listener) error {
	log.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING and gracefully stops the server
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
