// Package prunelist implements the compact record of MMR subtrees that
// have been fully pruned: positions whose hash and/or leaf data have been
// discarded because every leaf beneath them is spent (outputs) or simply
// no longer needed in hot storage.
//
// The bitmap stores only the *roots* of maximal pruned subtrees, never
// every pruned position individually - pruning a leaf whose sibling is
// already pruned collapses both into their parent, recursively, so the
// bitmap stays small (O(pruned subtrees), not O(pruned leaves)).
package prunelist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mimblenode/node/pkg/mmrmath"
)

const maxClimb = 64

// PruneList tracks fully-pruned MMR subtree roots and derives, for any
// logical position, how many physical records precede it in the
// corresponding compacted HashFile/DataFile.
type PruneList struct {
	mu   sync.RWMutex
	path string

	roots *roaring.Bitmap

	dirty         bool
	sortedRoots   []uint64
	cumShift      []uint64 // cumShift[k] = total positions removed by roots[0:k]
	cumLeafShift  []uint64 // cumLeafShift[k] = total leaves removed by roots[0:k]
}

// Open loads a prune list bitmap from path, or returns an empty one if the
// file doesn't exist yet.
func Open(path string) (*PruneList, error) {
	pl := &PruneList{path: path, roots: roaring.New(), dirty: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pl, nil
		}
		return nil, err
	}
	if _, err := pl.roots.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("prunelist: decoding %s: %w", path, err)
	}
	return pl, nil
}

// Add marks the leaf at the given 0-based MMR index as pruned, collapsing
// it with its sibling into their shared parent for as long as that
// sibling is itself already a fully-pruned root.
func (pl *PruneList) Add(leafIndex uint64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	i := leafIndex
	for climbs := 0; climbs < maxClimb; climbs++ {
		sibling, parent := mmrmath.SiblingAndParent(i)
		if !pl.roots.Contains(uint32(sibling)) {
			pl.roots.Add(uint32(i))
			break
		}
		pl.roots.Remove(uint32(i))
		pl.roots.Remove(uint32(sibling))
		i = parent
	}
	pl.dirty = true
}

// IsPrunedRoot reports whether pos is itself recorded as a pruned subtree
// root (as opposed to merely being covered by an ancestor's).
func (pl *PruneList) IsPrunedRoot(pos uint64) bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.roots.Contains(uint32(pos))
}

// IsPruned reports whether pos is covered by some pruned subtree root at
// or above it.
func (pl *PruneList) IsPruned(pos uint64) bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.isPrunedLocked(pos)
}

func (pl *PruneList) isPrunedLocked(pos uint64) bool {
	i := pos
	for climbs := 0; climbs < maxClimb; climbs++ {
		if pl.roots.Contains(uint32(i)) {
			return true
		}
		_, parent := mmrmath.SiblingAndParent(i)
		if parent == i {
			break
		}
		i = parent
	}
	return false
}

// IsCompactedAway reports whether pos has had its hash record physically
// removed: true for a position strictly beneath a pruned root, false for
// the root position itself (whose hash is always retained, so that
// segment extraction and peak bagging can still read it) and false for
// any unpruned position.
func (pl *PruneList) IsCompactedAway(pos uint64) bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.isPrunedLocked(pos) && !pl.roots.Contains(uint32(pos))
}

func (pl *PruneList) rebuildShiftTable() {
	if !pl.dirty {
		return
	}
	arr := pl.roots.ToArray()
	roots := make([]uint64, len(arr))
	for i, v := range arr {
		roots[i] = uint64(v)
	}

	cumShift := make([]uint64, len(roots)+1)
	cumLeafShift := make([]uint64, len(roots)+1)
	for i, r := range roots {
		height := mmrmath.IndexHeight(r)
		size := mmrmath.HeightIndexSize(height)
		leaves := mmrmath.HeightIndexLeafCount(height)
		// The root's own hash record is retained (segment extraction and
		// peak bagging need it even once everything beneath it is gone),
		// so only size-1 hash records are actually elided.
		cumShift[i+1] = cumShift[i] + size - 1
		cumLeafShift[i+1] = cumLeafShift[i] + leaves
	}

	pl.sortedRoots = roots
	pl.cumShift = cumShift
	pl.cumLeafShift = cumLeafShift
	pl.dirty = false
}

// Shift returns the number of physical records elided before logical
// position pos by every pruned root that lies strictly before it.
func (pl *PruneList) Shift(pos uint64) uint64 {
	pl.mu.Lock()
	pl.rebuildShiftTable()
	defer pl.mu.Unlock()

	idx := searchRootsBefore(pl.sortedRoots, pos)
	return pl.cumShift[idx]
}

// LeafShift is Shift restricted to counting pruned leaves (used by
// DataFile offset accounting rather than HashFile).
func (pl *PruneList) LeafShift(pos uint64) uint64 {
	pl.mu.Lock()
	pl.rebuildShiftTable()
	defer pl.mu.Unlock()

	idx := searchRootsBefore(pl.sortedRoots, pos)
	return pl.cumLeafShift[idx]
}

// searchRootsBefore returns the count of roots strictly less than pos.
func searchRootsBefore(roots []uint64, pos uint64) int {
	lo, hi := 0, len(roots)
	for lo < hi {
		mid := (lo + hi) / 2
		if roots[mid] < pos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Flush persists the bitmap atomically: write-to-temp, fsync, rename,
// fsync directory.
func (pl *PruneList) Flush() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	dir := filepath.Dir(pl.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(pl.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := pl.roots.WriteTo(tmp); err != nil {
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
	if err := os.Rename(tmpPath, pl.path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Cardinality returns the number of pruned-subtree roots currently
// recorded (not the number of pruned leaves).
func (pl *PruneList) Cardinality() uint64 {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.roots.GetCardinality()
}
