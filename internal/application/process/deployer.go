package process

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// Deployer creates and removes processes.
type Deployer struct {
	ledger   ports.Ledger
	pipeline *txpipeline.Pipeline
	logger   *zap.Logger
}

// NewDeployer creates a process deployer.
func NewDeployer(ledger ports.Ledger, pipeline *txpipeline.Pipeline, logger *zap.Logger) *Deployer {
	return &Deployer{
		ledger:   ledger,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Create registers req, waiting for block inclusion, and returns the record.
func (d *Deployer) Create(ctx context.Context, s *txpipeline.AccountSession, req domain.ProcessRequest) (*domain.Process, error) {
	msg := domain.Msg{
		Type:  domain.MsgTypeCreateProcess,
		Value: domain.CreateProcessMsg{Owner: s.Address(), Request: req},
	}

	result, err := d.pipeline.Submit(ctx, s, []domain.Msg{msg}, domain.CommitmentBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create process %s: %w", req.Name, err)
	}

	hash, err := txpipeline.SingleHash(result, domain.ModuleProcess, domain.ActionCreateProcess)
	if err != nil {
		return nil, err
	}

	process, err := d.ledger.GetProcess(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get created process %s: %w", hash, err)
	}

	d.logger.Info("process created",
		zap.String("process_hash", hash),
		zap.String("name", req.Name),
		zap.Int("nodes", len(req.Nodes)))

	return process, nil
}

// Remove deletes the process and waits for block inclusion.
func (d *Deployer) Remove(ctx context.Context, s *txpipeline.AccountSession, hash string) error {
	msg := domain.Msg{
		Type:  domain.MsgTypeDeleteProcess,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: hash},
	}
	if _, err := d.pipeline.Submit(ctx, s, []domain.Msg{msg}, domain.CommitmentBlock); err != nil {
		return fmt.Errorf("failed to remove process %s: %w", hash, err)
	}

	d.logger.Info("process removed", zap.String("process_hash", hash))
	return nil
}
