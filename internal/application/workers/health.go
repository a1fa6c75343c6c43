package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a snapshot of the worker pool
type HealthStatus struct {
	TotalWorkers   int `json:"total"`
	IdleWorkers    int `json:"idle"`
	BusyWorkers    int `json:"busy"`
	StoppedWorkers int `json:"stopped"`
	// InFlight lists the deployments being executed, sorted.
	InFlight []string `json:"in_flight,omitempty"`
	// LongestRunning is the age of the oldest in-flight deployment.
	LongestRunning time.Duration `json:"longest_running"`
	// Healthy is false once any worker has stopped. A saturated pool is
	// still healthy: queued deployments wait on the stream.
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMonitor samples the pool on an interval, logging and recording
// metrics for each sample.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start begins sampling. It is a no-op if already started.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
}

// Stop ends sampling and waits for the loop to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *HealthMonitor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HealthMonitor) sample() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	fields := []zap.Field{
		zap.Int("total", status.TotalWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Strings("in_flight", status.InFlight),
		zap.Duration("longest_running", status.LongestRunning),
	}

	switch {
	case !status.Healthy:
		h.logger.Warn("worker pool is unhealthy", fields...)
	case status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers:
		// Deployments serialize on the account lock, so saturation is normal
		// under load but worth seeing.
		h.logger.Info("all workers are busy", fields...)
	default:
		h.logger.Debug("worker pool health check", fields...)
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	now := time.Now()
	status := &HealthStatus{Timestamp: now}

	for _, w := range h.pool.snapshot() {
		status.TotalWorkers++
		switch w.status {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
			status.InFlight = append(status.InFlight, w.deployment)
			if age := now.Sub(w.since); age > status.LongestRunning {
				status.LongestRunning = age
			}
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}
	sort.Strings(status.InFlight)
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0

	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
