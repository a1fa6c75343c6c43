package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/aescanero/runnerd/internal/canonical"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/signing"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
)

// Codes reported in RejectedTxError, following the sdk codespace.
const (
	CodeInternal     uint32 = 1
	CodeUnauthorized uint32 = 4
	CodeUnknown      uint32 = 6
	CodeUnknownAddr  uint32 = 9
	CodeNotFound     uint32 = 22
)

// InMemoryLedger implements ports.Ledger with an in-process registry.
// This is for testing purposes only.
//
// It checks signatures and sequence numbers the way a node does, so tests
// exercise the real signing path. Accounts are created on first lookup.
type InMemoryLedger struct {
	chainID string
	prefix  string

	mu          sync.RWMutex
	height      int64
	nextAccount uint64
	accounts    map[string]*domain.AccountInfo
	services    map[string]*domain.Service
	processes   map[string]*domain.Process
	runners     map[string]*domain.Runner
	failNext    error
	broadcasts  int
}

// NewInMemoryLedger creates an empty ledger for chainID whose addresses use
// the given bech32 prefix.
func NewInMemoryLedger(chainID, prefix string) *InMemoryLedger {
	return &InMemoryLedger{
		chainID:   chainID,
		prefix:    prefix,
		accounts:  make(map[string]*domain.AccountInfo),
		services:  make(map[string]*domain.Service),
		processes: make(map[string]*domain.Process),
		runners:   make(map[string]*domain.Runner),
	}
}

// ChainID returns the chain identifier.
func (l *InMemoryLedger) ChainID(ctx context.Context) (string, error) {
	return l.chainID, ctx.Err()
}

// Account returns the account state, creating the account if needed.
func (l *InMemoryLedger) Account(ctx context.Context, address string) (*domain.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(address)
	info := *acc
	return &info, nil
}

func (l *InMemoryLedger) account(address string) *domain.AccountInfo {
	acc, ok := l.accounts[address]
	if !ok {
		acc = &domain.AccountInfo{Address: address, AccountNumber: l.nextAccount}
		l.nextAccount++
		l.accounts[address] = acc
	}
	return acc
}

// FailNextBroadcast makes the next Broadcast return err without touching state.
func (l *InMemoryLedger) FailNextBroadcast(err error) {
	l.mu.Lock()
	l.failNext = err
	l.mu.Unlock()
}

// Broadcasts returns how many transactions were included.
func (l *InMemoryLedger) Broadcasts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.broadcasts
}

// Broadcast verifies and applies tx.
//
// A tx that fails signature or sequence checks never reaches a block and
// leaves the account untouched. Once past those checks the tx is included
// and its sequence is spent even when a message fails; in block mode that
// failure comes back as a RejectedTxError carrying the inclusion height.
// Sync mode mirrors a node's pending pool answer: height 0, no events, and
// message failures are not reported.
func (l *InMemoryLedger) Broadcast(ctx context.Context, tx domain.StdTx, mode domain.Commitment) (*domain.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.NetworkError{Op: "broadcast", Err: err}
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown commitment level %q", mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return nil, err
	}

	txHash, err := hashTx(tx)
	if err != nil {
		return nil, err
	}

	signer, err := l.verify(tx, txHash)
	if err != nil {
		return nil, err
	}

	events, execErr := l.execute(signer.Address, tx.Msgs)
	signer.Sequence++
	l.height++
	l.broadcasts++

	if mode == domain.CommitmentSync {
		return &domain.TxResult{Height: "0", TxHash: txHash}, nil
	}
	if execErr != nil {
		execErr.TxHash = txHash
		execErr.Height = l.height
		return nil, execErr
	}
	return &domain.TxResult{
		Height: strconv.FormatInt(l.height, 10),
		TxHash: txHash,
		Events: events,
	}, nil
}

// execute applies msgs atomically. On failure no state change is kept.
func (l *InMemoryLedger) execute(sender string, msgs []domain.Msg) ([]domain.Event, *domain.RejectedTxError) {
	staged := l.stage()
	events := make([]domain.Event, 0, len(msgs))
	for i, msg := range msgs {
		event, err := staged.apply(sender, msg)
		if err != nil {
			return nil, &domain.RejectedTxError{
				Code:      codeOf(err),
				Codespace: "sdk",
				Log:       fmt.Sprintf("msg %d: %v", i, err),
			}
		}
		events = append(events, event)
	}
	l.commit(staged)
	return events, nil
}

func (l *InMemoryLedger) verify(tx domain.StdTx, txHash string) (*domain.AccountInfo, error) {
	reject := func(code uint32, log string) error {
		return &domain.RejectedTxError{Code: code, Codespace: "sdk", Log: log, TxHash: txHash}
	}

	if len(tx.Msgs) == 0 {
		return nil, reject(CodeUnknown, "transaction has no messages")
	}
	if len(tx.Signatures) != 1 {
		return nil, reject(CodeUnauthorized, fmt.Sprintf("wrong number of signatures; expected 1, got %d", len(tx.Signatures)))
	}

	sig := tx.Signatures[0]
	address, err := keyring.Address(l.prefix, sig.PubKey.Value)
	if err != nil {
		return nil, reject(CodeUnauthorized, "invalid public key")
	}
	acc, ok := l.accounts[address]
	if !ok {
		return nil, reject(CodeUnknownAddr, fmt.Sprintf("account %s does not exist", address))
	}

	signBytes, err := signing.SignBytes(l.chainID, acc.AccountNumber, acc.Sequence, tx.Fee, tx.Msgs, tx.Memo)
	if err != nil {
		return nil, reject(CodeInternal, err.Error())
	}
	if err := signing.Verify(sig.PubKey.Value, signing.Digest(signBytes), sig.Signature); err != nil {
		return nil, reject(CodeUnauthorized, fmt.Sprintf("signature verification failed; verify correct account sequence (%d) and chain-id (%s)", acc.Sequence, l.chainID))
	}
	return acc, nil
}

// GetService returns a service by hash.
func (l *InMemoryLedger) GetService(ctx context.Context, hash string) (*domain.Service, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.services[hash]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", hash, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// GetProcess returns a process by hash.
func (l *InMemoryLedger) GetProcess(ctx context.Context, hash string) (*domain.Process, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.processes[hash]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", hash, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// GetRunner returns a runner by hash.
func (l *InMemoryLedger) GetRunner(ctx context.Context, hash string) (*domain.Runner, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.runners[hash]
	if !ok {
		return nil, fmt.Errorf("runner %s: %w", hash, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// RegisterRunner records a runner the way an execution backend does once
// the runner is up.
func (l *InMemoryLedger) RegisterRunner(ctx context.Context, runner domain.Runner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runners[runner.Hash] = &runner
	l.height++
	return nil
}

// state is a copy of the registries a transaction writes to.
type state struct {
	services  map[string]*domain.Service
	processes map[string]*domain.Process
	runners   map[string]*domain.Runner
}

func (l *InMemoryLedger) stage() *state {
	s := &state{
		services:  make(map[string]*domain.Service, len(l.services)),
		processes: make(map[string]*domain.Process, len(l.processes)),
		runners:   make(map[string]*domain.Runner, len(l.runners)),
	}
	for k, v := range l.services {
		s.services[k] = v
	}
	for k, v := range l.processes {
		s.processes[k] = v
	}
	for k, v := range l.runners {
		s.runners[k] = v
	}
	return s
}

func (l *InMemoryLedger) commit(s *state) {
	l.services = s.services
	l.processes = s.processes
	l.runners = s.runners
}

type codedError struct {
	code uint32
	msg  string
}

func (e *codedError) Error() string { return e.msg }

func codeOf(err error) uint32 {
	if ce, ok := err.(*codedError); ok {
		return ce.code
	}
	return CodeInternal
}

func unauthorized(format string, args ...any) error {
	return &codedError{code: CodeUnauthorized, msg: fmt.Sprintf(format, args...)}
}

func notFound(kind, hash string) error {
	return &codedError{code: CodeNotFound, msg: fmt.Sprintf("%s %q not found", kind, hash)}
}

func (s *state) apply(signer string, msg domain.Msg) (domain.Event, error) {
	switch msg.Type {
	case domain.MsgTypeCreateService:
		var m domain.CreateServiceMsg
		if err := decode(msg.Value, &m); err != nil {
			return domain.Event{}, err
		}
		if m.Owner != signer {
			return domain.Event{}, unauthorized("owner %s is not the signer", m.Owner)
		}
		hash, err := canonical.HashValue("ledger/service/v1", m.Request)
		if err != nil {
			return domain.Event{}, err
		}
		// Identical definitions share one record.
		if _, ok := s.services[hash]; !ok {
			s.services[hash] = &domain.Service{Hash: hash, Owner: m.Owner, ServiceDefinition: m.Request}
		}
		return event(domain.ModuleService, domain.ActionCreateService, hash, signer), nil

	case domain.MsgTypeDeleteService:
		var m domain.DeleteMsg
		if err := decode(msg.Value, &m); err != nil {
			return domain.Event{}, err
		}
		srv, ok := s.services[m.Hash]
		if !ok {
			return domain.Event{}, notFound("service", m.Hash)
		}
		if srv.Owner != signer {
			return domain.Event{}, unauthorized("service %s is not owned by %s", m.Hash, signer)
		}
		delete(s.services, m.Hash)
		return event(domain.ModuleService, domain.ActionDeleteService, m.Hash, signer), nil

	case domain.MsgTypeDeleteRunner:
		var m domain.DeleteMsg
		if err := decode(msg.Value, &m); err != nil {
			return domain.Event{}, err
		}
		r, ok := s.runners[m.Hash]
		if !ok {
			return domain.Event{}, notFound("runner", m.Hash)
		}
		if r.Owner != "" && r.Owner != signer {
			return domain.Event{}, unauthorized("runner %s is not owned by %s", m.Hash, signer)
		}
		delete(s.runners, m.Hash)
		return event(domain.ModuleRunner, domain.ActionDeleteRunner, m.Hash, signer), nil

	case domain.MsgTypeCreateProcess:
		var m domain.CreateProcessMsg
		if err := decode(msg.Value, &m); err != nil {
			return domain.Event{}, err
		}
		if m.Owner != signer {
			return domain.Event{}, unauthorized("owner %s is not the signer", m.Owner)
		}
		hash, err := canonical.HashValue("ledger/process/v1", m.Request)
		if err != nil {
			return domain.Event{}, err
		}
		s.processes[hash] = &domain.Process{
			Hash:  hash,
			Owner: m.Owner,
			Name:  m.Request.Name,
			Nodes: m.Request.Nodes,
			Edges: m.Request.Edges,
		}
		return event(domain.ModuleProcess, domain.ActionCreateProcess, hash, signer), nil

	case domain.MsgTypeDeleteProcess:
		var m domain.DeleteMsg
		if err := decode(msg.Value, &m); err != nil {
			return domain.Event{}, err
		}
		p, ok := s.processes[m.Hash]
		if !ok {
			return domain.Event{}, notFound("process", m.Hash)
		}
		if p.Owner != signer {
			return domain.Event{}, unauthorized("process %s is not owned by %s", m.Hash, signer)
		}
		delete(s.processes, m.Hash)
		return event(domain.ModuleProcess, domain.ActionDeleteProcess, m.Hash, signer), nil
	}

	return domain.Event{}, &codedError{code: CodeUnknown, msg: fmt.Sprintf("unrecognized message type %q", msg.Type)}
}

func event(module, action, hash, sender string) domain.Event {
	return domain.Event{
		Type: "message",
		Attributes: []domain.Attribute{
			{Key: "module", Value: module},
			{Key: "action", Value: action},
			{Key: "sender", Value: sender},
			{Key: "hash", Value: hash},
		},
	}
}

// decode converts a message value, which may be a typed struct or generic
// JSON, into out.
func decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &codedError{code: CodeUnknown, msg: fmt.Sprintf("cannot encode message: %v", err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &codedError{code: CodeUnknown, msg: fmt.Sprintf("cannot decode message: %v", err)}
	}
	return nil
}

func hashTx(tx domain.StdTx) (string, error) {
	raw, err := canonical.Marshal(tx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
