package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/orchestrator"
	"github.com/aescanero/runnerd/internal/application/workers"
	"github.com/aescanero/runnerd/internal/domain"
)

// Deployments is the orchestrator surface the API serves.
type Deployments interface {
	SubmitDeployment(ctx context.Context, req *orchestrator.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, id string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context) ([]*domain.Deployment, error)
	Teardown(ctx context.Context, id string) error
}

// HealthChecker reports worker pool health.
type HealthChecker interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	server      *http.Server
	deployments Deployments
	health      HealthChecker
	logger      *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port        int
	Deployments Deployments
	// Health may be nil when no worker pool runs in this process.
	Health HealthChecker
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:      router,
		deployments: cfg.Deployments,
		health:      cfg.Health,
		logger:      cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/deployments", s.handleSubmitDeployment)
		v1.GET("/deployments", s.handleListDeployments)
		v1.GET("/deployments/:id", s.handleGetDeployment)
		v1.DELETE("/deployments/:id", s.handleTeardown)

		v1.POST("/runners/hash", s.handleRunnerHash)
		v1.POST("/tokens/verify", s.handleVerifyToken)
	}
}

// SetupWebSocket adds the deployment event stream
func (s *Server) SetupWebSocket(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/deployments/:id/ws", handler)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
