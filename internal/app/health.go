package app

import (
	"context"
	"net"

	"github.com/dmitrijs2005/crmsync/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service of one object type's sync loop.
func ServiceName(objectType string) string { return "crmsync.sync." + objectType }

// healthServer exposes the standard gRPC health service. The overall status
// is SERVING while the daemon runs; each object type reports NOT_SERVING
// after a failed sync run until the next run succeeds.
type healthServer struct {
	address string
	status  *health.Server
	logger  logging.Logger
}

func newHealthServer(address string, logger logging.Logger) *healthServer {
	return &healthServer{
		address: address,
		status:  health.NewServer(),
		logger:  logger.With("module", "health"),
	}
}

func (h *healthServer) set(service string, ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.status.SetServingStatus(service, st)
}

// Run serves until ctx is cancelled.
func (h *healthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", h.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.status)
	h.set("", true)

	go func() {
		<-ctx.Done()
		h.logger.Info(ctx, "Stopping health server...")
		h.status.Shutdown()
		srv.GracefulStop()
	}()

	h.logger.Info(ctx, "Starting health server", "address", listen.Addr().String())

	return srv.Serve(listen)
}
