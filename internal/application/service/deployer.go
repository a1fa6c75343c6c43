package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// Deployer compiles, creates and removes services.
type Deployer struct {
	compiler ports.Compiler
	ledger   ports.Ledger
	pipeline *txpipeline.Pipeline
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewDeployer creates a service deployer.
func NewDeployer(
	compiler ports.Compiler,
	ledger ports.Ledger,
	pipeline *txpipeline.Pipeline,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Deployer {
	return &Deployer{
		compiler: compiler,
		ledger:   ledger,
		pipeline: pipeline,
		metrics:  metrics,
		logger:   logger,
	}
}

// Compile turns source into a definition. Compiler errors are returned as is.
func (d *Deployer) Compile(ctx context.Context, source string, build domain.BuildContext) (*domain.ServiceDefinition, error) {
	return d.compiler.Compile(ctx, source, build)
}

// Create registers def and returns the stored record. The creation waits for
// block inclusion: the service hash is only known from the emitted events.
func (d *Deployer) Create(ctx context.Context, s *txpipeline.AccountSession, def *domain.ServiceDefinition) (*domain.Service, error) {
	msg := domain.Msg{
		Type:  domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{Owner: s.Address(), Request: *def},
	}

	result, err := d.pipeline.Submit(ctx, s, []domain.Msg{msg}, domain.CommitmentBlock)
	if err != nil {
		d.metrics.RecordServiceCreated("failed")
		return nil, fmt.Errorf("failed to create service %s: %w", def.Sid, err)
	}

	hash, err := txpipeline.SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	if err != nil {
		d.metrics.RecordServiceCreated("failed")
		return nil, err
	}

	service, err := d.ledger.GetService(ctx, hash)
	if err != nil {
		d.metrics.RecordServiceCreated("failed")
		return nil, fmt.Errorf("failed to get created service %s: %w", hash, err)
	}

	d.metrics.RecordServiceCreated("success")
	d.logger.Info("service created",
		zap.String("service_hash", hash),
		zap.String("sid", def.Sid),
		zap.String("tx_hash", result.TxHash))

	return service, nil
}

// Remove deletes the service and waits for block inclusion, so a following
// lookup no longer finds it.
func (d *Deployer) Remove(ctx context.Context, s *txpipeline.AccountSession, hash string) error {
	msg := domain.Msg{
		Type:  domain.MsgTypeDeleteService,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: hash},
	}
	if _, err := d.pipeline.Submit(ctx, s, []domain.Msg{msg}, domain.CommitmentBlock); err != nil {
		return fmt.Errorf("failed to remove service %s: %w", hash, err)
	}

	d.logger.Info("service removed", zap.String("service_hash", hash))
	return nil
}
