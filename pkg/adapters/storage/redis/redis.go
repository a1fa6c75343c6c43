package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
)

const keyPrefix = "runnerd:deployment:"

// DeploymentStore implements ports.DeploymentStore using Redis
type DeploymentStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeploymentStore creates a new Redis deployment store. A zero ttl keeps
// records until they are deleted.
func NewDeploymentStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DeploymentStore {
	return &DeploymentStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveDeployment serializes d and stores it with the configured TTL
func (s *DeploymentStore) SaveDeployment(ctx context.Context, d *domain.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("deployment id is required")
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	if err := s.client.Set(ctx, deploymentKey(d.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	s.logger.Debug("deployment saved",
		zap.String("deployment_id", d.ID),
		zap.String("status", string(d.Status)))

	return nil
}

// GetDeployment loads a deployment record
func (s *DeploymentStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	data, err := s.client.Get(ctx, deploymentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("deployment %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	var d domain.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}

	return &d, nil
}

// DeleteDeployment removes a deployment record
func (s *DeploymentStore) DeleteDeployment(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, deploymentKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	s.logger.Debug("deployment deleted",
		zap.String("deployment_id", id))

	return nil
}

// ListDeployments returns every stored deployment, oldest first
func (s *DeploymentStore) ListDeployments(ctx context.Context) ([]*domain.Deployment, error) {
	var cursor uint64
	var keys []string

	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return []*domain.Deployment{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load deployments: %w", err)
	}

	out := make([]*domain.Deployment, 0, len(values))
	for i, v := range values {
		// Expired between SCAN and MGET.
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var d domain.Deployment
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn("skipping unreadable deployment record",
				zap.String("deployment_id", strings.TrimPrefix(keys[i], keyPrefix)),
				zap.Error(err))
			continue
		}
		out = append(out, &d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})

	return out, nil
}

func deploymentKey(id string) string {
	return keyPrefix + id
}
