package chain

// Compact runs pruning compaction on the three MMRs: every position below
// each horizon that is no longer in the corresponding leaf set is added to
// that tree's prune list. Horizons are MMR positions, not block heights,
// since outputs, range proofs and kernels each advance at their own rate
// (a block may carry several outputs and kernels, not one of each).
func (c *Chain) Compact(outputHorizon, proofHorizon, kernelHorizon uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs.Compact(outputHorizon)
	c.proofs.Compact(proofHorizon)
	c.kernels.Compact(kernelHorizon)

	if err := c.outputs.Commit(); err != nil {
		return err
	}
	if err := c.proofs.Commit(); err != nil {
		return err
	}
	if err := c.kernels.Commit(); err != nil {
		return err
	}

	if c.log() != nil {
		c.log().Infow("compacted",
			"output_horizon", outputHorizon,
			"proof_horizon", proofHorizon,
			"kernel_horizon", kernelHorizon,
		)
	}
	return nil
}

// Sizes returns the current output, range-proof and kernel MMR sizes, for
// callers (e.g. the roots/compact CLI commands) that need to pick sensible
// horizons without reaching into unexported fields.
func (c *Chain) Sizes() (outputSize, proofSize, kernelSize uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outputs.Size(), c.proofs.Size(), c.kernels.Size()
}
