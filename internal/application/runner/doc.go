// Package runner manages runners: the live units that run a service instance
// with a given environment.
//
// Responsibilities:
//   - Deterministic identities (envHash, instanceHash, runnerHash)
//   - Signed authentication tokens handed to the execution backend
//   - Start through the provider, Stop through the ledger then the provider
package runner
