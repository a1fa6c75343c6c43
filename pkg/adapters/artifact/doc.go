// Package artifact provides content-addressed stores for service bundles.
//
// Implementations:
//   - ipfs: IPFS HTTP API
//   - memory: In-memory for testing
package artifact
