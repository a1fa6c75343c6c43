// Package workers implements the worker pool that executes queued deployments.
//
// The pool holds a single subscription to the deployment queue and hands
// each submitted deployment to a fixed number of goroutines, which:
//   - Call the orchestrator to resolve and register the deployment
//   - Track idle/busy status for the health monitor
//
// The health monitor logs pool status and records worker metrics.
package workers
