// Package ledger provides clients for the ledger registry.
//
// Implementations:
//   - lcd: JSON over HTTP against a node's light client daemon
//   - memory: In-process registry for testing
package ledger
