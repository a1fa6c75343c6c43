package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/runnerd/internal/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg)

	c.RecordBroadcast("block", "accepted", 2*time.Second)
	c.RecordBroadcast("block", "accepted", time.Second)
	c.RecordBroadcast("sync", "failed", time.Millisecond)
	c.RecordRunnerStarted("existing")
	c.RecordDeployment("completed", time.Minute)
	c.SetActiveDeployments(3)
	c.RecordWorkerPoolStatus(1, 2, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("block", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("sync", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runnersStarted.WithLabelValues("existing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deployments.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeDeployments))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.workerPoolBusy))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "runnerd_broadcast_duration_seconds")
	assert.Contains(t, names, "runnerd_deployment_duration_seconds")
}

func TestCollectorsOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollectorWithRegistry(prometheus.NewRegistry())
		NewCollectorWithRegistry(prometheus.NewRegistry())
	})
}
