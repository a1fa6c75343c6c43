// Package ports declares the boundaries between the deployment pipeline and
// the outside world: the ledger, the execution backend, the compiler and
// artifact store, key derivation, persistence, events and metrics.
package ports

import (
	"context"
	"io"
	"time"

	"github.com/aescanero/runnerd/internal/domain"
)

// Ledger is the client side of the ledger's LCD interface.
type Ledger interface {
	ChainID(ctx context.Context) (string, error)
	Account(ctx context.Context, address string) (*domain.AccountInfo, error)
	Broadcast(ctx context.Context, tx domain.StdTx, mode domain.Commitment) (*domain.TxResult, error)
	GetService(ctx context.Context, hash string) (*domain.Service, error)
	GetProcess(ctx context.Context, hash string) (*domain.Process, error)
	GetRunner(ctx context.Context, hash string) (*domain.Runner, error)
}

// Provider is an execution backend able to run services.
type Provider interface {
	Start(ctx context.Context, service *domain.Service, env []string, runnerHash, instanceHash, token string) (bool, error)
	Stop(ctx context.Context, runnerHash string) error
}

// Compiler turns a service source into a definition, uploading the bundled
// code on the way.
type Compiler interface {
	Compile(ctx context.Context, source string, build domain.BuildContext) (*domain.ServiceDefinition, error)
}

// ArtifactStore stores content and returns its content hash.
type ArtifactStore interface {
	Put(ctx context.Context, name string, content io.Reader) (string, error)
}

// Keyring derives an account from a mnemonic.
type Keyring interface {
	Derive(mnemonic string) (*domain.Account, error)
}

// DeploymentStore persists deployment state.
type DeploymentStore interface {
	SaveDeployment(ctx context.Context, d *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	DeleteDeployment(ctx context.Context, id string) error
	ListDeployments(ctx context.Context) ([]*domain.Deployment, error)
}

// EventHandler processes a single deployment event.
type EventHandler func(ctx context.Context, event domain.DeploymentEvent) error

// EventBus carries deployment events between components.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.DeploymentEvent) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// MetricsCollector records pipeline metrics.
type MetricsCollector interface {
	RecordBroadcast(mode, status string, duration time.Duration)
	RecordServiceCreated(status string)
	RecordRunnerStarted(status string)
	RecordRunnerStopped(status string)
	RecordNodeResolved(kind string)
	RecordDeployment(status string, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveDeployments(count int)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) RecordBroadcast(string, string, time.Duration) {}
func (NopMetrics) RecordServiceCreated(string)                   {}
func (NopMetrics) RecordRunnerStarted(string)                    {}
func (NopMetrics) RecordRunnerStopped(string)                    {}
func (NopMetrics) RecordNodeResolved(string)                     {}
func (NopMetrics) RecordDeployment(string, time.Duration)        {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)          {}
func (NopMetrics) SetActiveDeployments(int)                      {}
