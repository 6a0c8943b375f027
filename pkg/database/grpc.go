package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CreateGRPCClient create grpc client and wait until READY
func CreateGRPCClient(ctx context.Context, grpcIP string, timeout time.Duration) (*grpc.ClientConn, error) {
	client, err := grpc.NewClient(grpcIP, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc client[%s]: %w", grpcIP, err)
	}
	client.Connect()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		state := client.GetState()
		if state == connectivity.Ready {
			return client, nil
		}
		if !client.WaitForStateChange(ctx, state) {
			client.Close()
			return nil, fmt.Errorf("connection[%s] did not become READY within %s", grpcIP, timeout)
		}
	}
}

// HealthServer grpc health endpoint of a worker process
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer create grpc server with the standard health service
func NewHealthServer() *HealthServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{server: s, health: h}
}

// SetServing mark service serving or not, "" is the whole server
func (h *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Serve block until lis closed
func (h *HealthServer) Serve(lis net.Listener) error {
	logger.Log.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

// Stop graceful stop
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// CheckHealth ask a remote health service
func CheckHealth(ctx context.Context, conn *grpc.ClientConn, service string) (string, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}
