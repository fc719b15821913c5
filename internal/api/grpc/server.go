// Package grpcapi exposes the gRPC side of the service: the standard health
// service and reflection, for orchestration probes and grpcurl.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-analytics-service/internal/observability"
	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/observability/metrics"
)

// ServiceName is the health-check name of the streaming service.
const ServiceName = "speech.analytics.StreamService"

// Server owns the gRPC server and its health status.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates a server with health and reflection registered. Both the
// overall status and ServiceName start as NOT_SERVING until MarkServing.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: hs, logger: logging.WithComponent("grpc")}
}

// MarkServing flips every registered status to SERVING.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// Serve accepts connections on lis in a goroutine.
func (s *Server) Serve(lis net.Listener) {
	go func() {
		s.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
		if err := s.grpc.Serve(lis); err != nil {
			s.logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
}

// Stop marks the service NOT_SERVING and drains in-flight calls. Shutdown
// also ends any health Watch streams.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
