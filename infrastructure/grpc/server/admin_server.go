package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the service name reported by the health endpoint.
const RelayService = "chat.relay"

// AdminServer exposes the standard gRPC health protocol so orchestrators can check the relay.
type AdminServer struct {
	log    *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

func NewAdminServer(log *slog.Logger) *AdminServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus(RelayService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &AdminServer{log: log, grpc: s, health: h}
}

// Serve blocks until the server is stopped.
func (s *AdminServer) Serve(listener net.Listener) error {
	s.log.Info("Starting admin server", "address", listener.Addr().String())
	if err := s.grpc.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// SetServing flips the relay status, overall status included.
func (s *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(RelayService, status)
	s.health.SetServingStatus("", status)
}

// Stop reports NOT_SERVING to watchers then stops, waiting for pending checks
// until ctx ends.
func (s *AdminServer) Stop(ctx context.Context) {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
