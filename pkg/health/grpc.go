package health

import (
	"context"

	"github.com/gogo/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type grpcHealth struct {
	grpc_health_v1.UnimplementedHealthServer
	svc HealthService
}

func NewGRPCHealth(svc HealthService) grpc_health_v1.HealthServer {
	return &grpcHealth{svc: svc}
}

// RegisterGRPC exposes the readiness check as grpc.health.v1.Health.
func RegisterGRPC(srv *grpc.Server, svc HealthService) {
	grpc_health_v1.RegisterHealthServer(srv, NewGRPCHealth(svc))
}

func (h *grpcHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if h.svc.Check(ctx).Status != statusHealthy {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (h *grpcHealth) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch method not implemented")
}
