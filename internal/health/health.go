// Package health exposes the session status over the standard gRPC health
// protocol so supervisors can probe the daemon.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/callevents"
)

// Service is the health service name reported for the session.
const Service = "softline"

// Server serves grpc.health.v1.Health and follows the session status as a
// broadcast.Publisher.
type Server struct {
	addr   string
	logger *slog.Logger
	grpc   *grpc.Server
	health *grpchealth.Server
}

// NewServer creates a health server listening on addr once Run is called.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		logger: logger,
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
	}
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.logger.Info("[Health] gRPC health server listening", "address", lis.Addr().String())

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

// Check answers a health check in process.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// servingFor maps the session status to a serving status.
func servingFor(status callevents.SessionStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case callevents.StatusOnline, callevents.StatusOngoingCall:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Publish implements broadcast.Publisher.
func (s *Server) Publish(ctx context.Context, n broadcast.Notification) error {
	s.PublishAsync(n)
	return nil
}

// PublishAsync implements broadcast.Publisher.
func (s *Server) PublishAsync(n broadcast.Notification) {
	switch n.Kind {
	case broadcast.KindStatusChanged:
		status := servingFor(n.Status)
		s.logger.Debug("[Health] Serving status changed", "session_status", n.Status.String(), "serving", status.String())
		s.health.SetServingStatus(Service, status)
	case broadcast.KindServiceFinishing:
		s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Flush implements broadcast.Publisher.
func (s *Server) Flush(ctx context.Context) error {
	return nil
}

// Close implements broadcast.Publisher. The gRPC server itself stops with
// the context passed to Run.
func (s *Server) Close() error {
	return nil
}

var _ broadcast.Publisher = (*Server)(nil)
