// Package health serves the standard gRPC health service for the directory
// server. The accept loop flips the status, so probes report SERVING only
// while connections are being accepted.
package health

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/micropay/internal/logging"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "micropay.Directory"

type Server struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

func NewServer(address string, l logging.Logger) *Server {
	s := &Server{
		address: address,
		logger:  l.With("module", "health_server"),
		health:  health.NewServer(),
	}
	s.SetServing(false)
	return s
}

// SetServing updates the status of both the overall and the named service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *Server) serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting health server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}
