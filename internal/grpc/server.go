package grpcserver

import (
	"context"
	"net"

	"campusRobotDelivery/internal/auth"
	"campusRobotDelivery/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// NewServer builds the gRPC server with the auth interceptor, the health
// service and DispatchService registered.
func NewServer(secret string, ds *DispatchServer) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(auth.NewUnaryAuthInterceptor(secret, healthCheckMethod, healthWatchMethod)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	RegisterDispatchServiceServer(srv, ds)
	hs.SetServingStatus(DispatchServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// StartGRPC starts the gRPC server on the configured address and returns a shutdown function.
func StartGRPC(cfg *config.Config, ds *DispatchServer) (func(context.Context) error, error) {
	if cfg == nil {
		panic("config is required")
	}

	addr := cfg.GRPC.Address
	if addr == "" {
		addr = ":50051"
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// Plaintext; TLS is terminated in front of the service.
	srv, hs := NewServer(cfg.Auth.JWTSecret, ds)
	go func() { _ = srv.Serve(lis) }()

	return func(ctx context.Context) error {
		hs.Shutdown()
		done := make(chan struct{})
		go func() { srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}, nil
}
