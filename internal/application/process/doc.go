// Package process registers compiled processes on the ledger.
package process
