package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/runnerd/internal/application/orchestrator"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	eventsmem "github.com/aescanero/runnerd/pkg/adapters/events/memory"
	storagemem "github.com/aescanero/runnerd/pkg/adapters/storage/memory"
)

func newDeployCmd() *cobra.Command {
	var (
		env      []string
		buildDir string
		detach   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <process.yml>",
		Short: "Deploy a process, then tear it down on interrupt",
		Long: `Deploy resolves every node of a process file, starting services and
runners as needed, and registers the process on the ledger. It then waits
for an interrupt and compensates: the process is deleted and the runners it
started are stopped in reverse order. Use --detach to leave everything
running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireMnemonic(); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			def, err := loadProcess(args[0])
			if err != nil {
				return err
			}

			st, err := newStack(cfg, ports.NopMetrics{}, logger)
			if err != nil {
				return err
			}
			bus := eventsmem.NewInMemoryEventBus(logger)
			defer func() { _ = bus.Close() }()
			mgr := st.orchestrator(cfg, storagemem.NewInMemoryDeploymentStore(), bus, ports.NopMetrics{}, logger)

			return deploy(cmd.Context(), mgr, &orchestrator.SubmitRequest{
				Definition: def,
				Env:        env,
				BuildDir:   buildDir,
			}, detach, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&buildDir, "build-dir", "", "directory relative service sources resolve against")
	cmd.Flags().BoolVar(&detach, "detach", false, "exit after deploying without tearing down")

	return cmd
}

// deployer is the part of the orchestrator the deploy command drives
type deployer interface {
	SubmitDeployment(ctx context.Context, req *orchestrator.SubmitRequest) (string, error)
	Execute(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (*domain.Deployment, error)
	Teardown(ctx context.Context, id string) error
}

// deploy runs one deployment in the foreground. An interrupt during
// execution aborts it; either way the recorded entities are compensated
// unless detach is set and the deployment completed.
func deploy(ctx context.Context, mgr deployer, req *orchestrator.SubmitRequest, detach bool, out io.Writer, logger *zap.Logger) error {
	id, err := mgr.SubmitDeployment(ctx, req)
	if err != nil {
		return err
	}

	execErr := mgr.Execute(ctx, id)

	d, err := mgr.GetStatus(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	if err := printJSON(out, d); err != nil {
		return err
	}

	if execErr == nil {
		if detach {
			return nil
		}
		logger.Info("deployment running, interrupt to tear down",
			zap.String("deployment_id", id),
			zap.String("process_hash", d.ProcessHash))
		<-ctx.Done()
	}

	logger.Info("tearing down deployment", zap.String("deployment_id", id))
	if err := mgr.Teardown(context.WithoutCancel(ctx), id); err != nil {
		return errors.Join(execErr, err)
	}
	return execErr
}

// loadProcess reads a process definition file
func loadProcess(path string) (*domain.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read process file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def domain.ProcessDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse process file %s: %w", path, err)
	}
	return &def, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
