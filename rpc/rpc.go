package rpc

import (
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes the standard gRPC health service. Each bridge channel is a
// named service that is SERVING only while the channel is open.
type Server struct {
	listener net.Listener
	address  string
	grpc     *grpc.Server
	health   *health.Server
	log      *zap.SugaredLogger
}

// NewServer binds addr and registers the health service. The overall
// service ("") starts SERVING; named services start NOT_SERVING.
func NewServer(addr string, log *zap.SugaredLogger, services ...string) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: listener,
		address:  listener.Addr().String(),
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		log:      log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range services {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.address
}

// Start serves until Stop is called.
func (s *Server) Start() {
	s.log.Infof("RPC health server listening on %s", s.address)
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.log.Errorf("RPC server stopped: %v", err)
	}
}

// SetServing flips the health of one named service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Health returns the health service for in-process checks.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.log.Info("Stopping RPC server.")
	s.health.Shutdown()
	s.grpc.GracefulStop()
	_ = s.listener.Close()
}
