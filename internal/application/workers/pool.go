package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// Executor runs one queued deployment.
type Executor interface {
	Execute(ctx context.Context, id string) error
}

// Pool manages a pool of worker goroutines fed from the deployment queue
type Pool struct {
	size     int
	eventBus ports.EventBus
	executor Executor
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	jobs    chan string
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id   string
	pool *Pool

	mu         sync.RWMutex
	status     WorkerStatus
	deployment string
	since      time.Time
}

// workerState is a point-in-time copy of a worker
type workerState struct {
	status     WorkerStatus
	deployment string
	since      time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	eventBus ports.EventBus,
	executor Executor,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		eventBus: eventBus,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		jobs:     make(chan string),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the workers and subscribes to the deployment queue
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
			since:  time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicDeploymentQueue, p.dispatch); err != nil {
		p.cancel()
		p.wg.Wait()
		return fmt.Errorf("failed to subscribe to deployment queue: %w", err)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// dispatch hands a submitted deployment to the next free worker. It blocks
// while every worker is busy, which keeps unhandled messages on the queue.
func (p *Pool) dispatch(ctx context.Context, event domain.DeploymentEvent) error {
	if event.Type != domain.EventTypeDeploymentSubmitted {
		return nil
	}
	if event.DeploymentID == "" {
		return fmt.Errorf("event %s has no deployment id", event.ID)
	}

	select {
	case p.jobs <- event.DeploymentID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for id, st := range p.snapshot() {
		status[id] = st.status
	}
	return status
}

func (p *Pool) snapshot() map[string]workerState {
	out := make(map[string]workerState, len(p.workers))
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		out[w.id] = workerState{status: w.status, deployment: w.deployment, since: w.since}
		w.mu.RUnlock()
	}
	return out
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return
		case id := <-w.pool.jobs:
			w.handle(ctx, id)
		}
	}
}

// handle executes one deployment
func (w *worker) handle(ctx context.Context, id string) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.deployment = id
	w.since = time.Now()
	w.mu.Unlock()
	defer w.setStatus(WorkerStatusIdle)

	w.pool.logger.Info("executing deployment",
		zap.String("worker_id", w.id),
		zap.String("deployment_id", id))

	startTime := time.Now()
	if err := w.pool.executor.Execute(ctx, id); err != nil {
		w.pool.logger.Error("deployment execution failed",
			zap.String("worker_id", w.id),
			zap.String("deployment_id", id),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return
	}

	w.pool.logger.Info("deployment execution finished",
		zap.String("worker_id", w.id),
		zap.String("deployment_id", id),
		zap.Duration("duration", time.Since(startTime)))
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.deployment = ""
	w.since = time.Now()
	w.mu.Unlock()
}
