package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aescanero/runnerd/internal/application/workers"
)

// WorkersService is the health service name that tracks the worker pool.
const WorkersService = "runnerd.workers"

// HealthChecker reports worker pool health.
type HealthChecker interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	checker  HealthChecker
	interval time.Duration
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds gRPC server configuration
type Config struct {
	Port int
	// Health may be nil, in which case the server always reports SERVING.
	Health HealthChecker
	// PollInterval defaults to 5s.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// NewServer creates a new gRPC server exposing the standard health and
// reflection services.
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		checker:  cfg.Health,
		interval: interval,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
	s.refresh()

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.Addr()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server, forcing it closed if ctx
// expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
		_ = s.listener.Close()
		return fmt.Errorf("failed to shutdown gRPC server gracefully: %w", ctx.Err())
	}

	_ = s.listener.Close()

	s.logger.Info("gRPC server shut down complete")
	return nil
}

func (s *Server) watch() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil && !s.checker.GetStatus().Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(WorkersService, status)
}
