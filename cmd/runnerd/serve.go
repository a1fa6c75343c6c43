package main

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/runnerd/internal/application/workers"
	"github.com/aescanero/runnerd/internal/config"
	"github.com/aescanero/runnerd/pkg/adapters/events/redis"
	"github.com/aescanero/runnerd/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/aescanero/runnerd/pkg/adapters/storage/redis"
	"github.com/aescanero/runnerd/pkg/api/grpc"
	"github.com/aescanero/runnerd/pkg/api/http"
	"github.com/aescanero/runnerd/pkg/api/websocket"
)

const (
	workerGroup  = "runnerd-workers"
	streamMaxLen = 10000
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment API and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireMnemonic(); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting runnerd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	err := redisClient.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	hostname, _ := os.Hostname()
	// Workers share one consumer group; observers tail every event.
	workBus := redis.NewStreamsEventBus(redisClient, workerGroup, fmt.Sprintf("runnerd-%s-%d", hostname, os.Getpid()), streamMaxLen, logger)
	observerBus := redis.NewStreamsEventBus(redisClient, "", "", streamMaxLen, logger)
	store := redisstorage.NewDeploymentStore(redisClient, cfg.Redis.DeploymentTTL, logger)
	metricsCollector := prometheus.NewCollector()

	st, err := newStack(cfg, metricsCollector, logger)
	if err != nil {
		return err
	}
	orchestratorMgr := st.orchestrator(cfg, store, workBus, metricsCollector, logger)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		workBus,
		orchestratorMgr,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	httpServer := http.NewServer(&http.Config{
		Port:        cfg.HTTPPort,
		Deployments: orchestratorMgr,
		Health:      workerPool.Health(),
		Logger:      logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(observerBus, logger).HandleDeploymentStream)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: workerPool.Health(),
		Logger: logger,
	})
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()
		_ = workerPool.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	logger.Info("runnerd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
		if err := workerPool.Shutdown(shutdownCtx); err != nil {
			logger.Error("worker pool shutdown error", zap.Error(err))
		}
		if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown error", zap.Error(err))
		}
		if err := observerBus.Close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}
		if err := workBus.Close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("runnerd shut down complete")
	return nil
}
