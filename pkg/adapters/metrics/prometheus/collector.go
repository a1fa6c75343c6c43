package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	broadcasts        *prometheus.CounterVec
	broadcastDuration *prometheus.HistogramVec
	servicesCreated   *prometheus.CounterVec
	runnersStarted    *prometheus.CounterVec
	runnersStopped    *prometheus.CounterVec
	nodesResolved     *prometheus.CounterVec
	deployments       *prometheus.CounterVec
	deploymentTime    *prometheus.HistogramVec
	activeDeployments prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector registered on the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered on reg
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_broadcasts_total",
				Help: "Total number of transactions broadcast",
			},
			[]string{"mode", "status"},
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runnerd_broadcast_duration_seconds",
				Help:    "Transaction broadcast duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		servicesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_services_created_total",
				Help: "Total number of service creations",
			},
			[]string{"status"},
		),
		runnersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_runners_started_total",
				Help: "Total number of runner starts",
			},
			[]string{"status"},
		),
		runnersStopped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_runners_stopped_total",
				Help: "Total number of runner stops",
			},
			[]string{"status"},
		),
		nodesResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_nodes_resolved_total",
				Help: "Total number of definition nodes resolved",
			},
			[]string{"kind"},
		),
		deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnerd_deployments_total",
				Help: "Total number of deployments by outcome",
			},
			[]string{"status"},
		),
		deploymentTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runnerd_deployment_duration_seconds",
				Help:    "Deployment duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		activeDeployments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "runnerd_active_deployments",
				Help: "Number of deployments currently executing",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "runnerd_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "runnerd_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "runnerd_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordBroadcast records one broadcast attempt
func (c *Collector) RecordBroadcast(mode, status string, duration time.Duration) {
	c.broadcasts.WithLabelValues(mode, status).Inc()
	c.broadcastDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordServiceCreated records a service creation
func (c *Collector) RecordServiceCreated(status string) {
	c.servicesCreated.WithLabelValues(status).Inc()
}

// RecordRunnerStarted records a runner start
func (c *Collector) RecordRunnerStarted(status string) {
	c.runnersStarted.WithLabelValues(status).Inc()
}

// RecordRunnerStopped records a runner stop
func (c *Collector) RecordRunnerStopped(status string) {
	c.runnersStopped.WithLabelValues(status).Inc()
}

// RecordNodeResolved records a resolved node, deployed or referenced
func (c *Collector) RecordNodeResolved(kind string) {
	c.nodesResolved.WithLabelValues(kind).Inc()
}

// RecordDeployment records a finished deployment
func (c *Collector) RecordDeployment(status string, duration time.Duration) {
	c.deployments.WithLabelValues(status).Inc()
	c.deploymentTime.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveDeployments sets the number of currently executing deployments
func (c *Collector) SetActiveDeployments(count int) {
	c.activeDeployments.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
