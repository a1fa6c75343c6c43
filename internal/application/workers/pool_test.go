package workers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	eventsmem "github.com/aescanero/runnerd/pkg/adapters/events/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExecutor struct {
	mu      sync.Mutex
	ids     []string
	release chan struct{}
	fail    bool
}

func (f *fakeExecutor) Execute(ctx context.Context, id string) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.ids...)
	sort.Strings(out)
	return out
}

func submitted(id string) domain.DeploymentEvent {
	return domain.DeploymentEvent{ID: "ev-" + id, Type: domain.EventTypeDeploymentSubmitted, DeploymentID: id}
}

func shutdown(t *testing.T, p *Pool, bus *eventsmem.InMemoryEventBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, bus.Close())
}

func TestPoolExecutesQueuedDeployments(t *testing.T) {
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())
	exec := &fakeExecutor{}
	pool := NewPool(2, bus, exec, ports.NopMetrics{}, zap.NewNop(), time.Hour)
	require.NoError(t, pool.Start())
	defer shutdown(t, pool, bus)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.TopicDeploymentQueue, submitted("a")))
	require.NoError(t, bus.Publish(ctx, domain.TopicDeploymentQueue, domain.DeploymentEvent{Type: domain.EventTypeDeploymentStarted, DeploymentID: "ignored"}))
	require.NoError(t, bus.Publish(ctx, domain.TopicDeploymentQueue, submitted("b")))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"a", "b"}, exec.executed())
	}, time.Second, 5*time.Millisecond)
}

func TestPoolStatusAndHealth(t *testing.T) {
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())
	exec := &fakeExecutor{release: make(chan struct{})}
	pool := NewPool(2, bus, exec, ports.NopMetrics{}, zap.NewNop(), 10*time.Millisecond)
	require.NoError(t, pool.Start())

	status := pool.Health().GetStatus()
	assert.Equal(t, 2, status.TotalWorkers)
	assert.Equal(t, 2, status.IdleWorkers)
	assert.True(t, status.Healthy)

	require.NoError(t, bus.Publish(context.Background(), domain.TopicDeploymentQueue, submitted("slow")))
	assert.Eventually(t, func() bool {
		return pool.Health().GetStatus().BusyWorkers == 1
	}, time.Second, 5*time.Millisecond)
	status = pool.Health().GetStatus()
	assert.Equal(t, []string{"slow"}, status.InFlight)
	assert.GreaterOrEqual(t, status.LongestRunning, time.Duration(0))
	// A busy pool is still healthy.
	assert.True(t, status.Healthy)

	close(exec.release)
	assert.Eventually(t, func() bool {
		return len(exec.executed()) == 1 && pool.Health().GetStatus().IdleWorkers == 2
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, pool.Health().GetStatus().InFlight)

	shutdown(t, pool, bus)
	status = pool.Health().GetStatus()
	assert.Equal(t, 2, status.StoppedWorkers)
	assert.False(t, status.Healthy)
}

func TestPoolSurvivesExecutorErrors(t *testing.T) {
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())
	exec := &fakeExecutor{fail: true}
	pool := NewPool(1, bus, exec, ports.NopMetrics{}, zap.NewNop(), time.Hour)
	require.NoError(t, pool.Start())
	defer shutdown(t, pool, bus)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.TopicDeploymentQueue, submitted("x")))
	require.NoError(t, bus.Publish(ctx, domain.TopicDeploymentQueue, submitted("y")))

	assert.Eventually(t, func() bool {
		return len(exec.executed()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownInterruptsBusyWorkers(t *testing.T) {
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())
	exec := &fakeExecutor{release: make(chan struct{})}
	pool := NewPool(1, bus, exec, ports.NopMetrics{}, zap.NewNop(), time.Hour)
	require.NoError(t, pool.Start())

	require.NoError(t, bus.Publish(context.Background(), domain.TopicDeploymentQueue, submitted("stuck")))
	assert.Eventually(t, func() bool {
		return pool.Health().GetStatus().BusyWorkers == 1
	}, time.Second, 5*time.Millisecond)

	shutdown(t, pool, bus)
	assert.Empty(t, exec.executed())
}

func TestStartFailsOnClosedBus(t *testing.T) {
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Close())

	pool := NewPool(1, bus, &fakeExecutor{}, ports.NopMetrics{}, zap.NewNop(), time.Hour)
	assert.Error(t, pool.Start())
}
