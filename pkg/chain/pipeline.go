package chain

import (
	"crypto/sha256"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/mimblenode/node/pkg/chaintypes"
)

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	return sum[:]
}

func hashOutputIdentifier(id chaintypes.OutputIdentifier) []byte {
	return hashBytes([]byte{byte(id.Features)}, id.Commit[:])
}

func hashKernel(k chaintypes.Kernel) []byte {
	return hashBytes([]byte{byte(k.Features)}, k.Excess[:], k.ExcessSig[:])
}

func encodeOutputPayload(o chaintypes.Output) []byte {
	buf := make([]byte, 1+chaintypes.CommitmentSize+len(o.RangeProof))
	buf[0] = byte(o.Features)
	copy(buf[1:], o.Commit[:])
	copy(buf[1+chaintypes.CommitmentSize:], o.RangeProof)
	return buf
}

// AcceptBlock runs the full block acceptance pipeline for block, whose
// header must already have been accepted via [Chain.AcceptHeader]. sums is
// the block's running UTXO/kernel commitment sum, computed upstream by the
// (out of scope) crypto layer and simply recorded here for later retrieval
// via [Chain.GetBlockSums]. On any validation failure every buffered MMR
// mutation is discarded and the chain's applied tip is left untouched.
func (c *Chain) AcceptBlock(block *chaintypes.Block, sums chaintypes.BlockSums) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := block.Header
	if _, ok, err := c.store.getHeader(header.Hash); err != nil {
		return err
	} else if !ok {
		return ErrHeaderNotFound
	}

	savedTipHash := c.tip.Hash
	savedOutputLeaves, savedProofLeaves, savedKernelLeaves := c.outputLeaves, c.proofLeaves, c.kernelLeaves
	rewound := header.PrevHash != c.tip.Hash

	nrdBatch := new(leveldb.Batch)
	defer func() {
		if err != nil {
			c.outputs.Discard()
			c.proofs.Discard()
			c.kernels.Discard()
			// applyBlock (and a rewind attempted above it) mutate
			// outputLeaves/proofLeaves/kernelLeaves and outputPos directly;
			// undo them now that the underlying backends are back to their
			// pre-attempt state, so a rejected block leaves no trace.
			c.outputLeaves, c.proofLeaves, c.kernelLeaves = savedOutputLeaves, savedProofLeaves, savedKernelLeaves
			if rewound {
				// rewindToCommonAncestor's LoadSnapshot call replaced the
				// leaf set's own rollback baseline with the ancestor's
				// snapshot; reload the original tip's snapshot to put it
				// back, since Discard alone would leave it stuck there.
				_, _ = c.outputs.LoadSnapshot(savedTipHash)
			}
			c.rebuildOutputPos()
		}
	}()

	if rewound {
		if err := c.rewindToCommonAncestor(header.PrevHash, nrdBatch); err != nil {
			return err
		}
	}

	spentPos, nrdExcesses, err := c.applyBlock(block, nrdBatch)
	if err != nil {
		return err
	}

	outRoot, err := c.outputs.Root()
	if err != nil {
		return err
	}
	proofRoot, err := c.proofs.Root()
	if err != nil {
		return err
	}
	kernRoot, err := c.kernels.Root()
	if err != nil {
		return err
	}
	var gotOut, gotProof, gotKern chaintypes.Hash
	copy(gotOut[:], outRoot)
	copy(gotProof[:], proofRoot)
	copy(gotKern[:], kernRoot)
	if gotOut != header.OutputRoot || gotProof != header.RangeProofRoot || gotKern != header.KernelRoot {
		return ErrRootMismatch
	}

	if err := c.outputs.Snapshot(header.Hash); err != nil {
		return err
	}

	if err := c.outputs.Commit(); err != nil {
		return err
	}
	if err := c.proofs.Commit(); err != nil {
		return err
	}
	if err := c.kernels.Commit(); err != nil {
		return err
	}
	if err := c.nrd.Commit(nrdBatch); err != nil {
		return err
	}

	cp := checkpoint{
		header:       header,
		outputSize:   c.outputs.Size(),
		proofSize:    c.proofs.Size(),
		kernelSize:   c.kernels.Size(),
		outputLeaves: c.outputLeaves,
		proofLeaves:  c.proofLeaves,
		kernelLeaves: c.kernelLeaves,
		spentOutPos:  spentPos,
		nrdExcesses:  nrdExcesses,
		sums:         sums,
	}
	storeBatch := new(leveldb.Batch)
	c.store.putCheckpoint(storeBatch, cp)
	newTip := chaintypes.Tip{Hash: header.Hash, Height: header.Height, PrevHash: header.PrevHash, TotalDifficulty: header.TotalDifficulty}
	c.store.putTip(storeBatch, newTip)
	if err := c.store.commit(storeBatch); err != nil {
		return err
	}
	c.tip = newTip

	if c.log() != nil {
		c.log().Infow("block accepted", "height", header.Height, "hash", header.Hash.String())
	}
	return nil
}

// PendingRoots reports the output/range-proof/kernel MMR roots block would
// commit to if applied on top of the current tip, without altering chain
// state. A miner assembling a candidate block calls this to learn the
// roots to put in the header before running proof of work over it.
func (c *Chain) PendingRoots(block *chaintypes.Block) (outRoot, proofRoot, kernRoot chaintypes.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block.Header.PrevHash != c.tip.Hash {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, ErrNoCommonAncestor
	}

	savedOutputLeaves, savedProofLeaves, savedKernelLeaves := c.outputLeaves, c.proofLeaves, c.kernelLeaves
	defer func() {
		c.outputs.Discard()
		c.proofs.Discard()
		c.kernels.Discard()
		c.outputLeaves, c.proofLeaves, c.kernelLeaves = savedOutputLeaves, savedProofLeaves, savedKernelLeaves
		c.rebuildOutputPos()
	}()

	scratchBatch := new(leveldb.Batch)
	if _, _, err := c.applyBlock(block, scratchBatch); err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}

	out, err := c.outputs.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	proof, err := c.proofs.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	kern, err := c.kernels.Root()
	if err != nil {
		return chaintypes.Hash{}, chaintypes.Hash{}, chaintypes.Hash{}, err
	}
	copy(outRoot[:], out)
	copy(proofRoot[:], proof)
	copy(kernRoot[:], kern)
	return outRoot, proofRoot, kernRoot, nil
}

// applyBlock appends every input/output/kernel of block to the three MMRs
// in the prescribed order (inputs before outputs before kernels), running
// the NRD rule for each NoRecentDuplicate kernel, and returns the output
// positions it removed from the live set (for a future rewind to undo).
func (c *Chain) applyBlock(block *chaintypes.Block, nrdBatch *leveldb.Batch) ([]uint64, []chaintypes.Commitment, error) {
	var spentPos []uint64
	for _, in := range block.Inputs {
		pos, ok := c.outputPos[in.Commit]
		if !ok || !c.outputs.Unspent(pos) {
			return nil, nil, ErrDoubleSpend
		}
		c.outputs.Remove(pos)
		delete(c.outputPos, in.Commit)
		spentPos = append(spentPos, pos)
	}

	for _, out := range block.Outputs {
		outPos, outSize, err := c.outputs.Append(hashOutputIdentifier(out.OutputIdentifier), encodeOutputPayload(out))
		if err != nil {
			return nil, nil, err
		}
		proofPos, _, err := c.proofs.Append(hashBytes(out.RangeProof), out.RangeProof)
		if err != nil {
			return nil, nil, err
		}
		if outPos != proofPos {
			return nil, nil, ErrOutputPositionMismatch
		}
		c.outputPos[out.Commit] = outPos
		c.outputLeaves++
		_ = outSize
	}
	c.proofLeaves = c.outputLeaves

	var nrdExcesses []chaintypes.Commitment
	seenNRD := make(map[chaintypes.Commitment]bool)
	for _, k := range block.Kernels {
		_, _, err := c.kernels.Append(hashKernel(k), nil)
		if err != nil {
			return nil, nil, err
		}
		// NRD entries record the kernel's 1-based leaf number, so rewinding
		// the index to an ancestor's kernel leaf count keeps exactly that
		// ancestor's kernels.
		c.kernelLeaves++
		kernelLeafPos := c.kernelLeaves

		if k.IsNRD() {
			if seenNRD[k.Excess] {
				return nil, nil, fmt.Errorf("%w: duplicate NRD excess within one block", ErrNRDViolation)
			}
			seenNRD[k.Excess] = true
			if !c.cfg.NRDEnabled {
				return nil, nil, fmt.Errorf("%w: NRD kernels not enabled", ErrNRDViolation)
			}
			prior, ok, err := c.nrd.Peek(k.Excess)
			if err != nil {
				return nil, nil, err
			}
			if ok && prior.Height+uint64(k.RelativeHeight) > block.Header.Height {
				return nil, nil, ErrNRDViolation
			}
			if err := c.nrd.Push(nrdBatch, k.Excess, chaintypes.CommitPos{Pos: kernelLeafPos, Height: block.Header.Height}); err != nil {
				return nil, nil, err
			}
			nrdExcesses = append(nrdExcesses, k.Excess)
		}
	}
	return spentPos, nrdExcesses, nil
}

// rewindToCommonAncestor walks back from the current tip and from
// newParent until their header chains meet, then rewinds all three MMRs
// (restoring each one's output leaf set via its per-ancestor snapshot) and
// the NRD index to that point.
func (c *Chain) rewindToCommonAncestor(newParent chaintypes.Hash, nrdBatch *leveldb.Batch) error {
	ancestor, undone, err := c.findCommonAncestor(newParent)
	if err != nil {
		return err
	}

	rewindRm := roaring.New()
	affectedNRD := make(map[chaintypes.Commitment]bool)
	for _, cp := range undone {
		rewindRm.AddMany(toUint32Slice(cp.spentOutPos))
		for _, k := range cp.nrdExcesses {
			affectedNRD[k] = true
		}
	}

	ancestorCp, ok, err := c.store.getCheckpoint(ancestor)
	var ancOutSize, ancProofSize, ancKernSize, ancOutLeaves, ancProofLeaves, ancKernLeaves uint64
	if err != nil {
		return err
	}
	if ok {
		ancOutSize, ancProofSize, ancKernSize = ancestorCp.outputSize, ancestorCp.proofSize, ancestorCp.kernelSize
		ancOutLeaves, ancProofLeaves, ancKernLeaves = ancestorCp.outputLeaves, ancestorCp.proofLeaves, ancestorCp.kernelLeaves
	}

	c.outputs.Rewind(ancOutSize, ancOutLeaves, rewindRm)
	c.proofs.Rewind(ancProofSize, ancProofLeaves, nil)
	c.kernels.Rewind(ancKernSize, ancKernLeaves, nil)

	if ok, err := c.outputs.LoadSnapshot(ancestor); err != nil {
		return err
	} else if !ok && ancestor != (chaintypes.Hash{}) {
		return fmt.Errorf("chain: no leaf-set snapshot recorded for ancestor %s", ancestor)
	}

	c.outputLeaves, c.proofLeaves, c.kernelLeaves = ancOutLeaves, ancProofLeaves, ancKernLeaves

	for commit := range affectedNRD {
		if err := c.nrd.Rewind(nrdBatch, commit, ancKernLeaves); err != nil {
			return err
		}
	}

	c.rebuildOutputPos()
	return nil
}

// findCommonAncestor walks the undone-block checkpoint chain backward
// from the current tip until it reaches newParent's ancestry, returning
// the ancestor hash and the checkpoints of every block being undone
// (tip-most first).
func (c *Chain) findCommonAncestor(newParent chaintypes.Hash) (chaintypes.Hash, []checkpoint, error) {
	ancestors := make(map[chaintypes.Hash]bool)
	cursor := newParent
	ancestors[cursor] = true
	for cursor != (chaintypes.Hash{}) {
		h, err := c.headerAt(cursor)
		if err != nil {
			if err == ErrHeaderNotFound {
				break
			}
			return chaintypes.Hash{}, nil, err
		}
		if h.Height == 0 {
			break
		}
		cursor = h.PrevHash
		ancestors[cursor] = true
	}

	var undone []checkpoint
	cursor = c.tip.Hash
	for cursor != (chaintypes.Hash{}) && !ancestors[cursor] {
		cp, ok, err := c.store.getCheckpoint(cursor)
		if err != nil {
			return chaintypes.Hash{}, nil, err
		}
		if !ok {
			return chaintypes.Hash{}, nil, ErrNoCommonAncestor
		}
		undone = append(undone, cp)
		cursor = cp.header.PrevHash
	}
	if cursor == (chaintypes.Hash{}) && !ancestors[cursor] {
		return chaintypes.Hash{}, nil, ErrNoCommonAncestor
	}
	return cursor, undone, nil
}

func toUint32Slice(pos []uint64) []uint32 {
	out := make([]uint32, len(pos))
	for i, p := range pos {
		out[i] = uint32(p)
	}
	return out
}
