// Package chain implements the block/header acceptance pipeline: the
// component that mutates the output, range-proof and kernel MMRs (plus
// the NRD kernel index) atomically as new headers and blocks arrive, and
// that switches forks by rewinding to a common ancestor and replaying.
package chain

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"github.com/mimblenode/node/pkg/chaintypes"
	"github.com/mimblenode/node/pkg/kernelindex"
	"github.com/mimblenode/node/pkg/pmmr"
)

const (
	nrdListPrefix  = 'n'
	nrdEntryPrefix = 'N'
)

// PoWValidator checks a header's proof of work; delegated, since the
// opaque PoW predicate is out of scope for this module.
type PoWValidator func(h chaintypes.BlockHeader) bool

// VersionSchedule returns the header version required at height, so the
// pipeline can enforce a hard-fork schedule without hardcoding one.
type VersionSchedule func(height uint64) uint16

// Config configures a Chain's storage locations and pluggable consensus
// predicates.
type Config struct {
	Dir string

	PoW             PoWValidator
	VersionAt       VersionSchedule
	MaxFutureDrift  time.Duration
	CoinbaseMaturity uint64 // blocks
	NRDEnabled      bool
	HeaderCacheSize int

	Log *zap.SugaredLogger
}

func (c *Config) setDefaults() {
	if c.PoW == nil {
		c.PoW = func(chaintypes.BlockHeader) bool { return true }
	}
	if c.VersionAt == nil {
		c.VersionAt = func(uint64) uint16 { return 4 }
	}
	if c.MaxFutureDrift == 0 {
		c.MaxFutureDrift = 12 * time.Minute
	}
	if c.CoinbaseMaturity == 0 {
		c.CoinbaseMaturity = 1440
	}
}

// Chain owns the three persistent MMRs, the NRD kernel index and the
// chain's own header/checkpoint store, and exposes the read-only
// BlockChain view consumed by pkg/txpool.
type Chain struct {
	mu sync.RWMutex

	cfg Config

	outputs *pmmr.Backend
	proofs  *pmmr.Backend
	kernels *pmmr.Backend
	nrd     *kernelindex.Index
	store   *store

	tip        chaintypes.Tip
	headerHead chaintypes.Tip
	now        func() time.Time

	// outputPos resolves a live output's commitment to its MMR position,
	// rebuilt from the output MMR's retained payloads after every reorg
	// rather than persisted separately.
	outputPos map[chaintypes.Commitment]uint64

	outputLeaves uint64
	proofLeaves  uint64
	kernelLeaves uint64
}

// Open opens (or initializes) a Chain rooted at cfg.Dir.
func Open(cfg Config) (*Chain, error) {
	cfg.setDefaults()

	outputs, err := pmmr.Open(pmmr.Config{Dir: filepath.Join(cfg.Dir, "output"), DataFixedSize: 0})
	if err != nil {
		return nil, fmt.Errorf("chain: opening output MMR: %w", err)
	}
	proofs, err := pmmr.Open(pmmr.Config{Dir: filepath.Join(cfg.Dir, "rangeproof"), DataFixedSize: 0})
	if err != nil {
		return nil, fmt.Errorf("chain: opening rangeproof MMR: %w", err)
	}
	kernels, err := pmmr.Open(pmmr.Config{Dir: filepath.Join(cfg.Dir, "kernel"), DataFixedSize: 0})
	if err != nil {
		return nil, fmt.Errorf("chain: opening kernel MMR: %w", err)
	}
	nrd, err := kernelindex.Open(filepath.Join(cfg.Dir, "nrd"), nrdListPrefix, nrdEntryPrefix)
	if err != nil {
		return nil, fmt.Errorf("chain: opening NRD index: %w", err)
	}
	st, err := openStore(filepath.Join(cfg.Dir, "headers"), cfg.HeaderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("chain: opening header store: %w", err)
	}

	c := &Chain{
		cfg: cfg, outputs: outputs, proofs: proofs, kernels: kernels, nrd: nrd, store: st, now: time.Now,
		outputPos: make(map[chaintypes.Commitment]uint64),
	}

	if tip, ok, err := st.getTip(); err != nil {
		return nil, err
	} else if ok {
		c.tip = tip
		if cp, ok, err := st.getCheckpoint(tip.Hash); err != nil {
			return nil, err
		} else if ok {
			c.outputLeaves, c.proofLeaves, c.kernelLeaves = cp.outputLeaves, cp.proofLeaves, cp.kernelLeaves
		}
	}
	if hh, ok, err := st.getHeaderHead(); err != nil {
		return nil, err
	} else if ok {
		c.headerHead = hh
	}

	c.rebuildOutputPos()

	return c, nil
}

// rebuildOutputPos reconstructs the commitment→position lookup from the
// output MMR's currently-unspent, currently-retained leaf payloads. Used
// at startup and after every reorg, since the leaf set's rewind bitmap
// alone doesn't carry which commitment owns a restored position.
func (c *Chain) rebuildOutputPos() {
	c.outputPos = make(map[chaintypes.Commitment]uint64)
	for pos := uint64(0); pos < c.outputs.Size(); pos++ {
		if !c.outputs.Unspent(pos) {
			continue
		}
		payload, err := c.outputs.GetData(pos)
		if err != nil {
			continue
		}
		if len(payload) < 1+chaintypes.CommitmentSize {
			continue
		}
		var commit chaintypes.Commitment
		copy(commit[:], payload[1:1+chaintypes.CommitmentSize])
		c.outputPos[commit] = pos
	}
}

// Close releases every underlying file and database handle.
func (c *Chain) Close() error {
	if err := c.nrd.Close(); err != nil {
		return err
	}
	return c.store.close()
}

// ChainHead returns the header at the current applied tip.
func (c *Chain) ChainHead() (chaintypes.BlockHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headerAt(c.tip.Hash)
}

// HeaderHead returns the best known header chain tip, which may be ahead
// of the applied block tip while block bodies are still being fetched.
func (c *Chain) HeaderHead() chaintypes.Tip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headerHead
}

func (c *Chain) headerAt(hash chaintypes.Hash) (chaintypes.BlockHeader, error) {
	h, ok, err := c.store.getHeader(hash)
	if err != nil {
		return chaintypes.BlockHeader{}, err
	}
	if !ok {
		return chaintypes.BlockHeader{}, ErrHeaderNotFound
	}
	return h, nil
}

func (c *Chain) log() *zap.SugaredLogger { return c.cfg.Log }

// AcceptHeader validates and persists a header, extending the best header
// chain if it carries more total difficulty than the current one.
func (c *Chain) AcceptHeader(h chaintypes.BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.Height > 0 {
		prev, ok, err := c.store.getHeader(h.PrevHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownParent
		}
		if h.TotalDifficulty <= prev.TotalDifficulty {
			return ErrDifficultyMismatch
		}
	}
	if h.Version != c.cfg.VersionAt(h.Height) {
		return ErrBadHeaderVersion
	}
	if time.Unix(h.Timestamp, 0).After(c.now().Add(c.cfg.MaxFutureDrift)) {
		return ErrTimestampTooFarFuture
	}
	if !c.cfg.PoW(h) {
		return fmt.Errorf("chain: header at height %d: invalid proof of work", h.Height)
	}

	batch := new(leveldb.Batch)
	c.store.putHeader(batch, h)
	c.store.putHeightIndex(batch, h.Height, h.Hash)
	if h.TotalDifficulty > c.headerHead.TotalDifficulty {
		newHead := chaintypes.Tip{Hash: h.Hash, Height: h.Height, PrevHash: h.PrevHash, TotalDifficulty: h.TotalDifficulty}
		c.store.putHeaderHead(batch, newHead)
		if err := c.store.commit(batch); err != nil {
			return err
		}
		c.headerHead = newHead
		return nil
	}
	return c.store.commit(batch)
}
