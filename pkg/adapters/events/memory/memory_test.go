package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu     sync.Mutex
	events []domain.DeploymentEvent
}

func (c *collector) handle(ctx context.Context, e domain.DeploymentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.ID)
	}
	return out
}

func TestEverySubscriberReceivesEventsInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()
	ctx := context.Background()

	var a, b collector
	require.NoError(t, bus.Subscribe(ctx, "t", a.handle))
	require.NoError(t, bus.Subscribe(ctx, "t", b.handle))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(ctx, "t", domain.DeploymentEvent{ID: id}))
	}
	require.NoError(t, bus.Publish(ctx, "other", domain.DeploymentEvent{ID: "x"}))

	want := []string{"1", "2", "3"}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, a.ids()) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, b.ids()) }, time.Second, 5*time.Millisecond)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, bus.Subscribe(ctx, "t", c.handle))
	cancel()

	assert.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["t"]) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "t", domain.DeploymentEvent{ID: "late"}))
	assert.Empty(t, c.ids())
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	var c collector
	require.NoError(t, bus.Subscribe(ctx, "t", c.handle))
	require.NoError(t, bus.Unsubscribe(ctx, "t"))
	require.NoError(t, bus.Publish(ctx, "t", domain.DeploymentEvent{ID: "dropped"}))

	require.NoError(t, bus.Close())
	assert.Empty(t, c.ids())
	assert.ErrorIs(t, bus.Publish(ctx, "t", domain.DeploymentEvent{}), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(ctx, "t", c.handle), ErrClosed)
}
