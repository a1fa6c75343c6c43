package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/runnerd/internal/domain"
)

// InMemoryDeploymentStore implements ports.DeploymentStore using an in-memory map
// This is for testing purposes only
type InMemoryDeploymentStore struct {
	deployments map[string]*domain.Deployment
	mu          sync.RWMutex
}

// NewInMemoryDeploymentStore creates a new in-memory deployment store
func NewInMemoryDeploymentStore() *InMemoryDeploymentStore {
	return &InMemoryDeploymentStore{
		deployments: make(map[string]*domain.Deployment),
	}
}

// SaveDeployment stores a copy of d
func (s *InMemoryDeploymentStore) SaveDeployment(ctx context.Context, d *domain.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("deployment id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deployments[d.ID] = d.Clone()
	return nil
}

// GetDeployment returns a copy of the stored deployment
func (s *InMemoryDeploymentStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

// DeleteDeployment removes a deployment record
func (s *InMemoryDeploymentStore) DeleteDeployment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deployments, id)
	return nil
}

// ListDeployments returns every deployment, oldest first
func (s *InMemoryDeploymentStore) ListDeployments(ctx context.Context) ([]*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}
