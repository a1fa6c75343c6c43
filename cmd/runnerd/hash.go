package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
)

func newHashCmd() *cobra.Command {
	var (
		env     []string
		address string
	)

	cmd := &cobra.Command{
		Use:   "hash <service-hash>",
		Short: "Print the identity a runner of a service would have",
		Long: `Hash computes the runner, instance and env hashes for a service and
environment without touching the ledger. The runner address defaults to the
configured account.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.RequireMnemonic(); err != nil {
					return fmt.Errorf("%w (or pass --address)", err)
				}
				kr, err := keyring.New(cfg.Ledger.Bech32Prefix, cfg.Account.HDPath)
				if err != nil {
					return fmt.Errorf("failed to create keyring: %w", err)
				}
				account, err := kr.Derive(cfg.Account.Mnemonic)
				if err != nil {
					return fmt.Errorf("failed to derive account: %w", err)
				}
				address = account.Address
			}

			id, err := runner.Hash(address, args[0], env)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), id)
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "runner environment KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&address, "address", "", "runner owner address")

	return cmd
}
