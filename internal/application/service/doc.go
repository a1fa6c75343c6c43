// Package service compiles service sources and registers them on the ledger.
package service
