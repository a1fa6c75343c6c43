package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/ports"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runner-hash>...",
		Short: "Stop runners and delete them from the ledger",
		Args:  cobra.MinimumNArgs(1),
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

			st, err := newStack(cfg, ports.NopMetrics{}, logger)
			if err != nil {
				return err
			}

			session, err := st.pipeline.Open(cmd.Context(), cfg.Account.Mnemonic)
			if err != nil {
				return fmt.Errorf("failed to open session: %w", err)
			}
			defer session.Close()

			var errs []error
			for _, hash := range args {
				if err := st.runners.Stop(cmd.Context(), session, hash); err != nil {
					logger.Error("failed to stop runner", zap.String("runner_hash", hash), zap.Error(err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
			}
			return errors.Join(errs...)
		},
	}
}
