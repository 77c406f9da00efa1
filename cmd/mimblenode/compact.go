package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mimblenode/node/internal/config"
	"github.com/mimblenode/node/pkg/chain"
)

func newCompactCmd(cfgFor func() config.Config) *cobra.Command {
	var outputHorizon, proofHorizon, kernelHorizon uint64

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Prune spent output/range-proof/kernel MMR positions below the given horizons",
		Long: "compact walks each of the three MMRs below its horizon and drops any\n" +
			"position no longer in the live leaf set. Horizons are MMR positions, not\n" +
			"block heights; run roots first to see the current sizes, then pick\n" +
			"horizons safely behind the tip.",
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

			if err := c.Compact(outputHorizon, proofHorizon, kernelHorizon); err != nil {
				return fmt.Errorf("compacting: %w", err)
			}

			outSize, proofSize, kernSize := c.Sizes()
			fmt.Fprintf(cmd.OutOrStdout(), "compacted: output_size=%d rangeproof_size=%d kernel_size=%d\n",
				outSize, proofSize, kernSize)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&outputHorizon, "output-horizon", 0, "output MMR position horizon")
	cmd.Flags().Uint64Var(&proofHorizon, "rangeproof-horizon", 0, "range-proof MMR position horizon")
	cmd.Flags().Uint64Var(&kernelHorizon, "kernel-horizon", 0, "kernel MMR position horizon (kernels are never pruned, so this has no effect)")
	return cmd
}
