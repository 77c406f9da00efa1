package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mimblenode/node/internal/config"
	"github.com/mimblenode/node/pkg/chain"
)

func newRootsCmd(cfgFor func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "Print the current chain head and its output/range-proof/kernel MMR roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFor()
			log, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			c, err := chain.Open(cfg.ChainConfig(log))
			if err != nil {
				return fmt.Errorf("opening chain: %w", err)
			}
			defer c.Close()

			head, err := c.ChainHead()
			if err != nil {
				return fmt.Errorf("reading chain head: %w", err)
			}

			outSize, proofSize, kernSize := c.Sizes()

			fmt.Fprintf(cmd.OutOrStdout(), "height:          %d\n", head.Height)
			fmt.Fprintf(cmd.OutOrStdout(), "hash:            %s\n", head.Hash)
			fmt.Fprintf(cmd.OutOrStdout(), "version:         %d\n", head.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "total_difficulty: %d\n", head.TotalDifficulty)
			fmt.Fprintf(cmd.OutOrStdout(), "output_root:     %s (size %d)\n", head.OutputRoot, outSize)
			fmt.Fprintf(cmd.OutOrStdout(), "rangeproof_root: %s (size %d)\n", head.RangeProofRoot, proofSize)
			fmt.Fprintf(cmd.OutOrStdout(), "kernel_root:     %s (size %d)\n", head.KernelRoot, kernSize)
			return nil
		},
	}
}
