// Package orchestrator drives deployments of process definitions.
//
// The orchestrator manager:
//   - Validates requests before anything touches the ledger
//   - Queues submitted deployments on the event bus for the workers
//   - Executes a deployment under one account session and a timeout,
//     recording every service, runner and process it creates
//   - Tears deployments down by compensating in reverse order
//
// Lifecycle events are published for observers such as the websocket API.
package orchestrator
