package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// StreamsEventBus implements EventBus using Redis Streams.
//
// With a consumer group, subscribers of the same group share the stream and
// each message is handled once, which is how deployments are queued for the
// workers. Without one, every subscriber tails the stream from the moment it
// subscribes, which is how lifecycle events fan out to observers.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamsEventBus creates a new Redis Streams event bus. maxLen caps each
// stream approximately; zero leaves streams unbounded.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, maxLen int64, logger *zap.Logger) *StreamsEventBus {
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        maxLen,
		cancels:       make(map[string][]context.CancelFunc),
	}
}

// Publish appends an event to the topic's stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.DeploymentEvent) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("deployment_id", event.DeploymentID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe starts reading the topic's stream until ctx is done or the
// topic is unsubscribed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	if e.consumerGroup != "" {
		err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	readCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[topic] = append(e.cancels[topic], cancel)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.consumerGroup != "" {
			e.readGroup(readCtx, streamKey, handler)
		} else {
			e.tail(readCtx, streamKey, handler)
		}
	}()

	return nil
}

// readGroup reads new messages for this consumer and acknowledges the
// ones the handler accepted
func (e *StreamsEventBus) readGroup(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if !e.backoff(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if e.processMessage(ctx, streamKey, message, handler) {
					if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil {
						e.logger.Error("failed to acknowledge message",
							zap.String("stream", streamKey),
							zap.String("message_id", message.ID),
							zap.Error(err))
					}
				}
			}
		}
	}
}

// tail follows the stream from its current end
func (e *StreamsEventBus) tail(ctx context.Context, streamKey string, handler ports.EventHandler) {
	lastID := "$"
	for ctx.Err() == nil {
		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if !e.backoff(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// backoff reports whether reading should continue after err
func (e *StreamsEventBus) backoff(ctx context.Context, streamKey string, err error) bool {
	if errors.Is(err, redis.Nil) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	e.logger.Error("failed to read from stream",
		zap.String("stream", streamKey),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return true
	}
}

// processMessage decodes and handles one message, reporting success
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) bool {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return false
	}

	var event domain.DeploymentEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}

	return true
}

// Unsubscribe stops every reader of a topic started by this bus
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.cancels[topic]
	delete(e.cancels, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops all readers and waits for them. The Redis client is closed by
// the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	for topic, cancels := range e.cancels {
		for _, cancel := range cancels {
			cancel()
		}
		delete(e.cancels, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("runnerd:events:%s", topic)
}
