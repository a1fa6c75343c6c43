package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/orchestrator"
	"github.com/aescanero/runnerd/internal/application/process"
	"github.com/aescanero/runnerd/internal/application/resolver"
	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/application/service"
	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/config"
	"github.com/aescanero/runnerd/internal/ports"
	"github.com/aescanero/runnerd/pkg/adapters/artifact/ipfs"
	"github.com/aescanero/runnerd/pkg/adapters/compiler"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
	"github.com/aescanero/runnerd/pkg/adapters/ledger/lcd"
	providerhttp "github.com/aescanero/runnerd/pkg/adapters/provider/http"
)

// stack is the ledger-facing side of runnerd, shared by every command.
type stack struct {
	keyring   *keyring.Keyring
	ledger    ports.Ledger
	pipeline  *txpipeline.Pipeline
	services  *service.Deployer
	runners   *runner.Manager
	processes *process.Deployer
	resolver  *resolver.Resolver
	validator *resolver.Validator
}

// newStack wires the remote adapters and application services from cfg
func newStack(cfg *config.Config, metrics ports.MetricsCollector, logger *zap.Logger) (*stack, error) {
	kr, err := keyring.New(cfg.Ledger.Bech32Prefix, cfg.Account.HDPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyring: %w", err)
	}

	ledger := lcd.NewClient(cfg.Ledger.Endpoint, cfg.Ledger.RequestTimeout, logger)
	artifacts := ipfs.NewStore(cfg.Artifact.Endpoint, cfg.Artifact.Timeout, logger)
	provider := providerhttp.NewProvider(cfg.Provider.Endpoint, cfg.Provider.Timeout, logger)

	pipeline := txpipeline.NewPipeline(ledger, kr, txpipeline.Config{
		ChainID:       cfg.Ledger.ChainID,
		GasPerMsg:     cfg.Ledger.GasPerMsg,
		GasAdjustment: cfg.Ledger.GasAdjustment,
		GasPrice:      cfg.Ledger.GasPrice,
		FeeDenom:      cfg.Ledger.FeeDenom,
		Memo:          cfg.Ledger.Memo,
		BlockTimeout:  cfg.Timeouts.BroadcastBlock,
	}, metrics, logger)

	services := service.NewDeployer(
		compiler.NewCompiler(artifacts, logger),
		ledger,
		pipeline,
		metrics,
		logger,
	)
	runners := runner.NewManager(ledger, provider, pipeline, metrics, logger)
	validator := resolver.NewValidator(cfg.Resolver.MaxDepth)

	return &stack{
		keyring:   kr,
		ledger:    ledger,
		pipeline:  pipeline,
		services:  services,
		runners:   runners,
		processes: process.NewDeployer(ledger, pipeline, logger),
		resolver:  resolver.NewResolver(services, runners, validator, metrics, logger),
		validator: validator,
	}, nil
}

// orchestrator builds a deployment manager over store and eventBus
func (s *stack) orchestrator(cfg *config.Config, store ports.DeploymentStore, eventBus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *orchestrator.Manager {
	return orchestrator.NewManager(
		s.pipeline,
		s.resolver,
		s.processes,
		s.runners,
		s.services,
		store,
		eventBus,
		metrics,
		orchestrator.NewValidator(s.validator),
		orchestrator.Config{
			Mnemonic:          cfg.Account.Mnemonic,
			BuildDir:          cfg.Resolver.BuildDir,
			DeploymentTimeout: cfg.Timeouts.Deployment,
			TeardownTimeout:   cfg.Timeouts.Teardown,
			RemoveServices:    cfg.TeardownRemoveServices,
		},
		logger,
	)
}
