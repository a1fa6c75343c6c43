// Package config loads runnerd settings from the environment.
//
// Settings are grouped by concern:
//   - LEDGER_*: LCD endpoint, chain id, bech32 prefix and fee parameters
//   - ACCOUNT_*: signing mnemonic and HD path
//   - ARTIFACT_*, PROVIDER_*: IPFS API and execution backend
//   - RESOLVER_*: depth bound, create commitment and build directory
//   - REDIS_*, WORKER_*, TIMEOUT_*: serve mode infrastructure
//
// Defaults target a local devnet. ACCOUNT_MNEMONIC has no default; commands
// that sign call RequireMnemonic.
package config
