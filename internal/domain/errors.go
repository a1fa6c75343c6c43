package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the ledger has no record for a hash.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a malformed definition node.
type ValidationError struct {
	// Path locates the node, e.g. "nodes[1].dependencies[0]".
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid definition at %s: %s", e.Path, e.Reason)
}

// AmbiguousResultError is returned when a tx result does not hold exactly one
// event of the expected module/action.
type AmbiguousResultError struct {
	Module string
	Action string
	Count  int
	TxHash string
}

func (e *AmbiguousResultError) Error() string {
	return fmt.Sprintf("expected exactly one %s/%s event in tx %s, found %d",
		e.Module, e.Action, e.TxHash, e.Count)
}

// NetworkError wraps a transport failure while talking to a remote service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedTxError carries the reason the ledger gave for refusing a tx.
// Height is set when the tx was included in a block and failed during
// execution; the signer's sequence is spent in that case.
type RejectedTxError struct {
	Code      uint32
	Codespace string
	Log       string
	TxHash    string
	Height    int64
}

// Included reports whether the rejected tx made it into a block.
func (e *RejectedTxError) Included() bool { return e.Height > 0 }

func (e *RejectedTxError) Error() string {
	if e.Codespace != "" {
		return fmt.Sprintf("transaction rejected (codespace=%s, code=%d): %s", e.Codespace, e.Code, e.Log)
	}
	return fmt.Sprintf("transaction rejected (code=%d): %s", e.Code, e.Log)
}

// SignatureError is returned when a token or transaction cannot be signed
// or does not verify.
type SignatureError struct {
	Reason string
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("signature error: %s", e.Reason)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// ProviderError reports an execution backend failure.
type ProviderError struct {
	Op         string
	RunnerHash string
	// Inconsistent is set when the ledger record was already retired but the
	// runtime unit could not be torn down.
	Inconsistent bool
	Err          error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s failed for runner %s", e.Op, e.RunnerHash)
	if e.Inconsistent {
		msg += " (ledger record already deleted)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NodeError attaches the failing node's path to a resolution error.
type NodeError struct {
	Path string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Path, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRejected reports whether err wraps a RejectedTxError.
func IsRejected(err error) bool {
	var re *RejectedTxError
	return errors.As(err, &re)
}
