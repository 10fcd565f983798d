// Package health exposes collector state through the standard gRPC health service.
package health

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/insightflo/perfmon/pkg/collector"
)

// ServiceName is the health service name reported alongside the overall status
const ServiceName = "perfmon.Collector"

// StateSource notifies about collector lifecycle changes
type StateSource interface {
	State() collector.State
	OnStateChange(fn func(collector.State))
}

// Server serves grpc.health.v1 for the collector
type Server struct {
	addr   string
	health *health.Server
	grpc   *grpc.Server
	logger *logrus.Logger
}

// NewServer creates a gRPC server with the health and reflection services registered
func NewServer(addr string, logger *logrus.Logger) *Server {
	s := &Server{
		addr:   addr,
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	// Register reflection service for grpcurl
	reflection.Register(s.grpc)

	s.SetState(collector.StateUninitialized)
	return s
}

// Watch mirrors the collector state into the health status
func (s *Server) Watch(src StateSource) {
	s.SetState(src.State())
	src.OnStateChange(s.SetState)
}

// SetState reports SERVING while collecting and NOT_SERVING otherwise
func (s *Server) SetState(state collector.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == collector.StateCollecting {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)

	s.logger.WithFields(logrus.Fields{
		"state":  state.String(),
		"status": status.String(),
	}).Debug("Health status updated")
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
