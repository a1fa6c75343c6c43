package txpipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/runnerd/internal/domain"
)

// ErrSessionClosed is returned when a closed session is used.
var ErrSessionClosed = errors.New("account session is closed")

// AccountSession is the exclusive handle on one account's transaction stream.
// It is not shared between deployments; the lock it holds is released by Close.
type AccountSession struct {
	Account       *domain.Account
	ChainID       string
	AccountNumber uint64

	mnemonic string

	mu       sync.Mutex
	sequence uint64
	closed   bool
	release  func()
}

// Address returns the account address.
func (s *AccountSession) Address() string {
	return s.Account.Address
}

// Sequence returns the sequence number the next transaction must carry.
func (s *AccountSession) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Close releases the account lock. It is safe to call more than once.
func (s *AccountSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.release != nil {
		s.release()
	}
}

// advance moves the sequence past used, which must be the current value.
func (s *AccountSession) advance(used uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if used != s.sequence {
		return &SequenceError{Expected: s.sequence, Got: used}
	}
	s.sequence++
	return nil
}

func (s *AccountSession) check(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if seq != s.sequence {
		return &SequenceError{Expected: s.sequence, Got: seq}
	}
	return nil
}

func (s *AccountSession) resync(seq uint64) {
	s.mu.Lock()
	s.sequence = seq
	s.mu.Unlock()
}

// SequenceError is returned when a transaction carries a sequence number the
// session has already moved past.
type SequenceError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("transaction sequence %d does not match session sequence %d", e.Got, e.Expected)
}

// accountLocks hands out one lock per address. Waiting honours ctx.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]chan struct{})}
}

func (l *accountLocks) acquire(ctx context.Context, address string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[address]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[address] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
