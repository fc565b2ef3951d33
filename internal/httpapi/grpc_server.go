package httpapi

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"igrejaportal.org/internal/obs"
)

// GRPCServer exposes the standard gRPC health service for orchestrators,
// driven by the same readiness probe as /readyz.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	ready  Readiness
	log    logrus.FieldLogger
}

func NewGRPCServer(ready Readiness, log logrus.FieldLogger) *GRPCServer {
	if ready == nil {
		ready = ReadyProbe{}
	}
	log = obs.Or(log)
	s := &GRPCServer{
		health: health.NewServer(),
		ready:  ready,
		log:    log,
	}
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Sync probes readiness once and publishes the result for both the overall
// service ("") and the named back-office service.
func (s *GRPCServer) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.ready.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.WithError(err).Warn("readiness check failed")
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	return status
}

// Watch re-syncs every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Sync(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

func (s *GRPCServer) Serve(lis net.Listener) error { return s.server.Serve(lis) }

// GracefulStop marks everything NOT_SERVING and drains in-flight calls.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := s.log.WithFields(logrus.Fields{
		"method":      info.FullMethod,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("grpc call failed")
	} else {
		entry.Debug("grpc call")
	}
	return resp, err
}
