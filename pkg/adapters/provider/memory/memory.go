package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/runnerd/internal/domain"
)

// Registrar records started runners on a ledger.
type Registrar interface {
	RegisterRunner(ctx context.Context, runner domain.Runner) error
}

// StartRequest is what the provider received for a running runner.
type StartRequest struct {
	Service      *domain.Service
	Env          []string
	RunnerHash   string
	InstanceHash string
	Token        string
}

// InMemoryProvider implements ports.Provider without running anything.
// This is for testing purposes only
type InMemoryProvider struct {
	registrar Registrar

	mu        sync.Mutex
	running   map[string]StartRequest
	starts    int
	stops     int
	failStart error
	failStop  error
	refuse    bool
}

// NewInMemoryProvider creates a provider. registrar may be nil.
func NewInMemoryProvider(registrar Registrar) *InMemoryProvider {
	return &InMemoryProvider{
		registrar: registrar,
		running:   make(map[string]StartRequest),
	}
}

// Start records the runner and registers it with the registrar.
func (p *InMemoryProvider) Start(ctx context.Context, service *domain.Service, env []string, runnerHash, instanceHash, token string) (bool, error) {
	p.mu.Lock()
	if p.failStart != nil {
		err := p.failStart
		p.mu.Unlock()
		return false, err
	}
	if p.refuse {
		p.mu.Unlock()
		return false, nil
	}
	p.running[runnerHash] = StartRequest{
		Service:      service,
		Env:          append([]string(nil), env...),
		RunnerHash:   runnerHash,
		InstanceHash: instanceHash,
		Token:        token,
	}
	p.starts++
	p.mu.Unlock()

	if p.registrar != nil {
		if err := p.registrar.RegisterRunner(ctx, domain.Runner{Hash: runnerHash, InstanceHash: instanceHash}); err != nil {
			return false, fmt.Errorf("failed to register runner: %w", err)
		}
	}
	return true, nil
}

// Stop forgets the runner.
func (p *InMemoryProvider) Stop(ctx context.Context, runnerHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failStop != nil {
		return p.failStop
	}
	if _, ok := p.running[runnerHash]; !ok {
		return fmt.Errorf("runner %s is not running", runnerHash)
	}
	delete(p.running, runnerHash)
	p.stops++
	return nil
}

// Running returns the start request of a running runner.
func (p *InMemoryProvider) Running(runnerHash string) (StartRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.running[runnerHash]
	return req, ok
}

// Starts returns how many runners were started.
func (p *InMemoryProvider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Stops returns how many runners were stopped.
func (p *InMemoryProvider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// FailStart makes every following Start fail with err. nil resets.
func (p *InMemoryProvider) FailStart(err error) {
	p.mu.Lock()
	p.failStart = err
	p.mu.Unlock()
}

// FailStop makes every following Stop fail with err. nil resets.
func (p *InMemoryProvider) FailStop(err error) {
	p.mu.Lock()
	p.failStop = err
	p.mu.Unlock()
}

// Refuse makes Start report false without an error.
func (p *InMemoryProvider) Refuse(refuse bool) {
	p.mu.Lock()
	p.refuse = refuse
	p.mu.Unlock()
}
