// Package provider contains execution backends that run services.
//
// Implementations:
//   - http: REST client for a remote execution backend
//   - memory: In-process backend for testing
package provider
