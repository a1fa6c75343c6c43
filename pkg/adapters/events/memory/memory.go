package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("event bus closed")

const subscriberBuffer = 64

// InMemoryEventBus implements EventBus using in-memory subscribers. Every
// subscriber receives every event of its topic, in publish order.
// This is for testing purposes only
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
	logger      *zap.Logger
}

type subscription struct {
	events chan domain.DeploymentEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]*subscription),
		logger:      logger,
	}
}

// Publish queues an event for every subscriber of topic. It blocks while a
// subscriber's buffer is full.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.DeploymentEvent) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscription, 0, len(e.subscribers[topic]))
	for _, s := range e.subscribers[topic] {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.events <- event:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe registers handler on topic until ctx is done, the topic is
// unsubscribed or the bus is closed.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	id := e.nextID
	e.nextID++
	sub := &subscription{
		events: make(chan domain.DeploymentEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][id] = sub

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.remove(topic, id)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case event := <-sub.events:
				if err := handler(ctx, event); err != nil {
					e.logger.Warn("event handler failed",
						zap.String("topic", topic),
						zap.String("event_id", event.ID),
						zap.Error(err))
				}
			}
		}
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.subscribers[topic] {
		s.stop()
	}
	delete(e.subscribers, topic)
	return nil
}

// Close stops every subscriber and waits for their handlers to return
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	e.closed = true
	for _, subs := range e.subscribers {
		for _, s := range subs {
			s.stop()
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *InMemoryEventBus) remove(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.subscribers[topic][id]; ok {
		s.stop()
		delete(e.subscribers[topic], id)
	}
}
