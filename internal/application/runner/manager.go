package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// Manager starts and stops runners for an account session.
type Manager struct {
	ledger   ports.Ledger
	provider ports.Provider
	pipeline *txpipeline.Pipeline
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewManager creates a runner manager.
func NewManager(
	ledger ports.Ledger,
	provider ports.Provider,
	pipeline *txpipeline.Pipeline,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		ledger:   ledger,
		provider: provider,
		pipeline: pipeline,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start launches a runner of serviceHash with env. If the ledger already
// knows the runner, the provider is not called again.
func (m *Manager) Start(ctx context.Context, s *txpipeline.AccountSession, serviceHash string, env []string) (*domain.RunnerInfo, error) {
	service, err := m.ledger.GetService(ctx, serviceHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", serviceHash, err)
	}

	parsed, err := ParseEnv(env)
	if err != nil {
		return nil, err
	}
	env = FormatEnv(parsed)

	id, err := Hash(s.Address(), serviceHash, env)
	if err != nil {
		return nil, err
	}
	info := &domain.RunnerInfo{Hash: id.RunnerHash, InstanceHash: id.InstanceHash}

	existing, err := m.ledger.GetRunner(ctx, id.RunnerHash)
	switch {
	case err == nil:
		m.metrics.RecordRunnerStarted("existing")
		m.logger.Info("runner already registered",
			zap.String("runner_hash", existing.Hash),
			zap.String("instance_hash", existing.InstanceHash))
		return info, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to look up runner %s: %w", id.RunnerHash, err)
	}

	token, err := IssueToken(s.Account, serviceHash, id.EnvHash)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeToken(token)
	if err != nil {
		return nil, &domain.SignatureError{Reason: "cannot encode token", Err: err}
	}

	m.logger.Info("starting runner",
		zap.String("service_hash", serviceHash),
		zap.String("runner_hash", id.RunnerHash),
		zap.String("instance_hash", id.InstanceHash))

	ok, err := m.provider.Start(ctx, service, env, id.RunnerHash, id.InstanceHash, encoded)
	if err != nil || !ok {
		m.metrics.RecordRunnerStarted("failed")
		if err == nil {
			err = errors.New("provider refused to start the runner")
		}
		return nil, &domain.ProviderError{Op: "start", RunnerHash: id.RunnerHash, Err: err}
	}

	m.metrics.RecordRunnerStarted("success")
	m.logger.Info("runner started",
		zap.String("runner_hash", id.RunnerHash),
		zap.String("instance_hash", id.InstanceHash))

	return info, nil
}

// Stop deletes the runner from the ledger, waiting for block inclusion, then
// asks the provider to tear it down.
func (m *Manager) Stop(ctx context.Context, s *txpipeline.AccountSession, runnerHash string) error {
	msg := domain.Msg{
		Type:  domain.MsgTypeDeleteRunner,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: runnerHash},
	}
	if _, err := m.pipeline.Submit(ctx, s, []domain.Msg{msg}, domain.CommitmentBlock); err != nil {
		m.metrics.RecordRunnerStopped("failed")
		return fmt.Errorf("failed to delete runner %s: %w", runnerHash, err)
	}

	if err := m.provider.Stop(ctx, runnerHash); err != nil {
		m.metrics.RecordRunnerStopped("inconsistent")
		m.logger.Error("runner deleted from ledger but still running",
			zap.String("runner_hash", runnerHash),
			zap.Error(err))
		return &domain.ProviderError{Op: "stop", RunnerHash: runnerHash, Inconsistent: true, Err: err}
	}

	m.metrics.RecordRunnerStopped("success")
	m.logger.Info("runner stopped", zap.String("runner_hash", runnerHash))
	return nil
}
