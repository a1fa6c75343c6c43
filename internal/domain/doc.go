// Package domain holds the types shared by the deployment pipeline.
//
// It covers:
//   - Ledger records (services, processes, runners) and transactions
//   - Definition trees that describe what to deploy
//   - Runner identities and authentication tokens
//   - Deployment state tracked by the orchestrator
//   - The error kinds every component reports
package domain
