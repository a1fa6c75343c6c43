// Package storage provides deployment record storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory for testing and single-shot CLI runs
package storage
