package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// Server publishes Checker reports through grpc.health.v1. The empty
// service name carries the overall status; each component has its own.
type Server struct {
	checker  *Checker
	hs       *grpchealth.Server
	grpc     *grpc.Server
	interval time.Duration
	logger   *slog.Logger
}

func NewServer(checker *Checker, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	return &Server{checker: checker, hs: hs, grpc: gs, interval: interval, logger: logger}
}

// Refresh runs a check and updates every serving status.
func (s *Server) Refresh(ctx context.Context) Report {
	r := s.checker.Check(ctx)
	for _, c := range r.Components {
		s.hs.SetServingStatus(c.Name, servingStatus(c.Healthy))
	}
	// a degraded pipeline still serves; only a lost store stops it
	db, _ := r.Component(Database)
	s.hs.SetServingStatus("", servingStatus(db.Healthy))
	return r
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve listens on addr until ctx is cancelled, refreshing statuses on the
// configured interval.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return common.WrapError(err, "listen health")
	}
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go s.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		s.hs.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.logger.Info("health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && ctx.Err() == nil {
		return common.WrapError(err, "serve health")
	}
	return nil
}

func (s *Server) refreshLoop(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r := s.Refresh(ctx)
			if r.Status != StatusHealthy {
				s.logger.Warn("pipeline degraded", "warnings", r.Warnings)
			}
		}
	}
}
