// Package leafset tracks the set of MMR leaf positions that currently
// exist and have not been removed - for the output MMR this is the UTXO
// set; for kernels every leaf stays in the set forever. Backed by a
// roaring bitmap, snapshotted per accepted block so that a reorg can
// restore the exact leaf set that was live at any recent ancestor.
package leafset

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mimblenode/node/pkg/chaintypes"
	"github.com/mimblenode/node/pkg/prunelist"
)

// LeafSet is a compact bitmap of unpruned leaf positions with an
// in-memory backup used to implement [LeafSet.Discard].
type LeafSet struct {
	mu   sync.RWMutex
	path string

	bitmap    *roaring.Bitmap
	bitmapBak *roaring.Bitmap
}

// Open loads a leaf set from path, or creates an empty one.
func Open(path string) (*LeafSet, error) {
	bm, err := readBitmap(path)
	if err != nil {
		return nil, err
	}
	return &LeafSet{path: path, bitmap: bm, bitmapBak: bm.Clone()}, nil
}

func readBitmap(path string) (*roaring.Bitmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return roaring.New(), nil
		}
		return nil, err
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return bm, nil
}

// snapshotPath returns the per-block snapshot path for a given block hash,
// e.g. "<base>.<hex-hash>".
func snapshotPath(base string, blockHash chaintypes.Hash) string {
	return base + "." + hex.EncodeToString(blockHash[:])
}

// Add marks pos as present (a newly appended, unspent output leaf).
func (ls *LeafSet) Add(pos uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.bitmap.Add(uint32(pos))
}

// Remove marks pos as spent.
func (ls *LeafSet) Remove(pos uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.bitmap.Remove(uint32(pos))
}

// Includes reports whether pos is currently present (unspent).
func (ls *LeafSet) Includes(pos uint64) bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.bitmap.Contains(uint32(pos))
}

// Iter returns every currently-present position in ascending order.
func (ls *LeafSet) Iter() []uint64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	arr := ls.bitmap.ToArray()
	out := make([]uint64, len(arr))
	for i, v := range arr {
		out[i] = uint64(v)
	}
	return out
}

// Snapshot writes a copy of the current bitmap tagged with blockHash, so a
// later rewind to this point can restore exactly this set.
func (ls *LeafSet) Snapshot(blockHash chaintypes.Hash) error {
	ls.mu.RLock()
	bm := ls.bitmap.Clone()
	ls.mu.RUnlock()
	return writeBitmapAtomic(snapshotPath(ls.path, blockHash), bm)
}

// LoadSnapshot replaces the live bitmap with the snapshot recorded for
// blockHash, if one exists. It is used when a reopen finds the current
// tip already has a matching snapshot (preferred over the base file), and
// when switching to a fork whose snapshot we still have on hand.
func (ls *LeafSet) LoadSnapshot(blockHash chaintypes.Hash) (bool, error) {
	path := snapshotPath(ls.path, blockHash)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	bm, err := readBitmap(path)
	if err != nil {
		return false, err
	}
	ls.mu.Lock()
	ls.bitmap = bm
	ls.bitmapBak = bm.Clone()
	ls.mu.Unlock()
	return true, nil
}

// Rewind removes every position above cutoffPos, then restores every
// position in rewindRmPos (outputs spent by the blocks being undone,
// which become unspent again once those blocks are rolled back).
func (ls *LeafSet) Rewind(cutoffPos uint64, rewindRmPos *roaring.Bitmap) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	max := ls.bitmap.Maximum()
	if uint64(max) > cutoffPos {
		ls.bitmap.RemoveRange(uint64(cutoffPos)+1, uint64(max)+1)
	}
	if rewindRmPos != nil {
		ls.bitmap.Or(rewindRmPos)
	}
}

// RemovedPreCutoff computes the set of positions that were removed
// (spent, or genuinely pruned) at or before cutoffPos, accounting for
// both the live bitmap and the prune list. Used by the MMR backend to
// decide what a segment should omit.
func (ls *LeafSet) RemovedPreCutoff(cutoffPos uint64, rewindRmPos *roaring.Bitmap, pl *prunelist.PruneList) *roaring.Bitmap {
	ls.mu.RLock()
	bm := ls.bitmap.Clone()
	ls.mu.RUnlock()

	max := bm.Maximum()
	if uint64(max) > cutoffPos {
		bm.RemoveRange(uint64(cutoffPos)+1, uint64(max)+1)
	}
	if rewindRmPos != nil {
		bm.Or(rewindRmPos)
	}

	unprunedLeaves := roaring.New()
	for p := uint64(0); p <= cutoffPos; p++ {
		if pl == nil || !pl.IsPruned(p) {
			unprunedLeaves.Add(uint32(p))
		}
	}

	flipped := roaring.FlipInt(bm, 0, int(cutoffPos)+1)
	return roaring.And(flipped, unprunedLeaves)
}

// Flush persists the live bitmap atomically and refreshes the backup
// copy used by [LeafSet.Discard].
func (ls *LeafSet) Flush() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := writeBitmapAtomic(ls.path, ls.bitmap); err != nil {
		return err
	}
	ls.bitmapBak = ls.bitmap.Clone()
	return nil
}

// Discard restores the live bitmap from the last flushed (or loaded)
// backup, abandoning any in-memory mutations made since.
func (ls *LeafSet) Discard() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.bitmap = ls.bitmapBak.Clone()
}

// Cardinality returns the number of currently-present leaves.
func (ls *LeafSet) Cardinality() uint64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.bitmap.GetCardinality()
}

func writeBitmapAtomic(path string, bm *roaring.Bitmap) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := bm.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
