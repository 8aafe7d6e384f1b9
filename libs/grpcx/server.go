package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/appointmenthub/hub/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server with tracing, request ids and the standard
// health service registered. The returned health server starts as NOT_SERVING.
func NewServer(extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	}
	opts = append(opts, extra...)
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchReadiness flips the overall health status according to the ready checks
// until ctx is done.
func WatchReadiness(ctx context.Context, hs *health.Server, logger *slog.Logger, every time.Duration, checks ...runtime.ReadyCheck) {
	if every <= 0 {
		every = 5 * time.Second
	}
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if failures := runtime.CheckAll(ctx, checks...); len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("grpc health not serving", "failures", failures)
		}
		hs.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

// Serve runs srv on lis until ctx is done, then stops gracefully.
func Serve(ctx context.Context, srv *grpc.Server, lis net.Listener, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info("grpc server starting", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		logger.Error("grpc server error", "err", err)
	}
}
