// Package pmmr composes the append-only hash/data files, the leaf set and
// the prune list into a single prunable MMR backend: the storage engine
// behind each of the chain's three persistent trees (output, range proof
// and kernel MMRs).
package pmmr

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mimblenode/node/pkg/chaintypes"
	"github.com/mimblenode/node/pkg/leafset"
	"github.com/mimblenode/node/pkg/mmrmath"
	"github.com/mimblenode/node/pkg/mmrstore"
	"github.com/mimblenode/node/pkg/prunelist"
)

// ErrPrunedLeaf is returned when a caller asks for the data or hash of a
// position that has been compacted away.
var ErrPrunedLeaf = errors.New("pmmr: position has been pruned")

// HasherFactory returns a fresh hash.Hash; kept as a factory rather than a
// single instance so backends can be used concurrently from a single
// read-only snapshot.
type HasherFactory func() hash.Hash

// DefaultHasher is SHA-256, standing in for the blake2b instance a real
// commitment-hashing node would use; swapped out in tests that need a
// cheaper hash.
func DefaultHasher() hash.Hash { return sha256.New() }

// Backend is a prunable Merkle Mountain Range: an append-only hash file
// for interior nodes and leaves, an optional data file for leaf payloads,
// a leaf set recording which leaves are still live, and a prune list
// recording which subtrees have been compacted out of the hash file.
type Backend struct {
	hashes  *mmrstore.HashFile
	data    *mmrstore.DataFile
	leaves  *leafset.LeafSet
	prune   *prunelist.PruneList
	hasherF HasherFactory
}

// Config names the files a Backend opens under dir, and the hash
// record/fixed-leaf-record sizes to use.
type Config struct {
	Dir            string
	HashRecordSize int // e.g. 32 for a 32-byte hash
	DataFixedSize  int // 0 selects variable-length leaf records
	Hasher         HasherFactory
}

// Open opens (or creates) the four files that make up a Backend.
func Open(cfg Config) (*Backend, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	hashSize := cfg.HashRecordSize
	if hashSize == 0 {
		hashSize = 32
	}

	hashes, err := mmrstore.OpenHashFile(filepath.Join(cfg.Dir, "hash.bin"), hashSize)
	if err != nil {
		return nil, fmt.Errorf("pmmr: opening hash file: %w", err)
	}
	data, err := mmrstore.OpenDataFile(filepath.Join(cfg.Dir, "data.bin"), cfg.DataFixedSize)
	if err != nil {
		return nil, fmt.Errorf("pmmr: opening data file: %w", err)
	}
	leaves, err := leafset.Open(filepath.Join(cfg.Dir, "leafset.bmp"))
	if err != nil {
		return nil, fmt.Errorf("pmmr: opening leaf set: %w", err)
	}
	prune, err := prunelist.Open(filepath.Join(cfg.Dir, "prunelist.bmp"))
	if err != nil {
		return nil, fmt.Errorf("pmmr: opening prune list: %w", err)
	}

	return &Backend{hashes: hashes, data: data, leaves: leaves, prune: prune, hasherF: cfg.Hasher}, nil
}

// Size returns the total number of hash-file records (leaves plus
// interior nodes) currently appended, pruned or not.
func (b *Backend) Size() uint64 { return b.hashes.Len() }

// HasherFactory returns the hash function this backend was opened with,
// so callers building derived structures (e.g. a segment) over it hash
// leaves the same way.
func (b *Backend) HasherFactory() HasherFactory { return b.hasherF }

// Get implements [mmrmath.NodeGetter] over the hash file.
func (b *Backend) Get(i uint64) ([]byte, error) { return b.hashes.Get(i) }

// Append adds a new leaf with both a commitment hash and (optionally) a
// data payload, back-filling interior nodes. Returns the leaf's MMR node
// index and the new MMR size.
func (b *Backend) Append(leafHash []byte, payload []byte) (pos uint64, size uint64, err error) {
	pos = b.hashes.Len()
	size, err = mmrmath.AddHashedLeaf(b.hashes, b.hasherF(), leafHash)
	if err != nil {
		return 0, 0, err
	}
	if payload != nil {
		if _, err := b.data.Append(payload); err != nil {
			return 0, 0, err
		}
	}
	b.leaves.Add(pos)
	return pos, size, nil
}

// Remove marks the leaf at pos as spent (removed from the leaf set) but
// does not yet reclaim its storage - that happens later, in bulk, via
// [Backend.Compact].
func (b *Backend) Remove(pos uint64) {
	b.leaves.Remove(pos)
}

// GetHash returns the hash stored at pos. A position strictly beneath a
// pruned subtree root returns [ErrPrunedLeaf]; the root position itself
// still resolves, since its hash record is always retained.
func (b *Backend) GetHash(pos uint64) ([]byte, error) {
	if b.prune.IsCompactedAway(pos) {
		return nil, ErrPrunedLeaf
	}
	physical := pos - b.prune.Shift(pos)
	return b.hashes.Get(physical)
}

// GetData returns the leaf payload stored for the leaf at pos, or
// [ErrPrunedLeaf] if it has been compacted out.
func (b *Backend) GetData(pos uint64) ([]byte, error) {
	if b.prune.IsPruned(pos) {
		return nil, ErrPrunedLeaf
	}
	leafIdx := mmrmath.LeafIndex(pos)
	physical := leafIdx - b.prune.LeafShift(pos)
	return b.data.Get(physical)
}

// IsPrunedRoot reports whether pos is recorded as a fully-pruned subtree
// root: its hash is still retrievable via [Backend.GetHash], but nothing
// beneath it is.
func (b *Backend) IsPrunedRoot(pos uint64) bool {
	return b.prune.IsPrunedRoot(pos)
}

// Unspent reports whether the leaf at pos is still present in the leaf
// set (for the output MMR this is the UTXO test; the kernel MMR never
// removes leaves so it is always true there).
func (b *Backend) Unspent(pos uint64) bool {
	return b.leaves.Includes(pos)
}

// Root computes the bagged MMR root over the current size.
func (b *Backend) Root() ([]byte, error) {
	return mmrmath.Root(b, b.hasherF(), b.hashes.Len())
}

// InclusionProof returns the sibling hashes needed to verify that the
// leaf at pos is included in the current MMR.
func (b *Backend) InclusionProof(pos uint64) ([][]byte, error) {
	return mmrmath.InclusionProof(b, b.hashes.Len()-1, pos)
}

// Snapshot records the current leaf set under blockHash so a later
// rewind can restore it exactly.
func (b *Backend) Snapshot(blockHash chaintypes.Hash) error {
	return b.leaves.Snapshot(blockHash)
}

// LoadSnapshot restores the leaf set to the snapshot recorded for
// blockHash, if one was taken. Used when switching to a fork whose tip
// snapshot is still on hand.
func (b *Backend) LoadSnapshot(blockHash chaintypes.Hash) (bool, error) {
	return b.leaves.LoadSnapshot(blockHash)
}

// Rewind truncates the hash and data files back to the sizes they had at
// the target block (posAfter/leavesAfter), and restores the leaf set,
// re-adding any positions spent by the blocks being undone.
func (b *Backend) Rewind(posAfter, leavesAfter uint64, rewindRmPos *roaring.Bitmap) {
	b.hashes.Rewind(posAfter)
	b.data.Rewind(leavesAfter)
	if posAfter > 0 {
		b.leaves.Rewind(posAfter-1, rewindRmPos)
	} else {
		b.leaves.Rewind(0, rewindRmPos)
		b.leaves.Remove(0)
	}
}

// Commit flushes every underlying file; a failure partway through leaves
// already-flushed files durable and later ones untouched, so callers
// should treat any error as "retry the whole commit", not partial
// success.
func (b *Backend) Commit() error {
	if err := b.hashes.Flush(); err != nil {
		return fmt.Errorf("pmmr: flushing hashes: %w", err)
	}
	if err := b.data.Flush(); err != nil {
		return fmt.Errorf("pmmr: flushing data: %w", err)
	}
	if err := b.leaves.Flush(); err != nil {
		return fmt.Errorf("pmmr: flushing leaf set: %w", err)
	}
	if err := b.prune.Flush(); err != nil {
		return fmt.Errorf("pmmr: flushing prune list: %w", err)
	}
	return nil
}

// Discard abandons every buffered-but-uncommitted change in the hash file,
// the data file and the leaf set; prune-list additions are not undone.
func (b *Backend) Discard() {
	b.hashes.Discard()
	b.data.Discard()
	b.leaves.Discard()
}

// Compact walks every position below horizon that is no longer in the
// leaf set and adds it to the prune list, collapsing siblings into
// parents as it goes. horizon is typically "current height minus the
// configured number of blocks to keep fully unprunable".
func (b *Backend) Compact(horizon uint64) {
	for _, pos := range b.leaves.RemovedPreCutoff(horizon, nil, b.prune).ToArray() {
		if mmrmath.IsLeaf(uint64(pos)) {
			b.prune.Add(uint64(pos))
		}
	}
}
