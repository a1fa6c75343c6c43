package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"
)

// InMemoryStore implements ports.ArtifactStore keyed by BLAKE3 digest.
// This is for testing purposes only
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Put stores content and returns its digest.
func (s *InMemoryStore) Put(ctx context.Context, name string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.blobs[hash] = data
	s.mu.Unlock()
	return hash, nil
}

// Get returns stored content.
func (s *InMemoryStore) Get(hash string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	return data, ok
}

// Len returns the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
