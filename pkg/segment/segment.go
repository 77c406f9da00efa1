// Package segment implements extraction and verification of proof-carrying
// MMR subtree slices, the unit of transfer for parallel initial block
// download (PIBD): a node that only has part of the chain's state can
// request, verify and apply one segment at a time instead of the whole
// output/rangeproof/kernel MMRs at once.
package segment

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mimblenode/node/pkg/mmrmath"
	"github.com/mimblenode/node/pkg/pmmr"
)

var (
	// ErrRootMismatch is returned by Validate when the reconstructed root
	// does not equal the expected MMR root.
	ErrRootMismatch = errors.New("segment: root mismatch")
	// ErrLeafSetMismatch is returned when the segment's pruned-leaf ranges
	// don't match the complement of the supplied leaf set.
	ErrLeafSetMismatch = errors.New("segment: leaf set mismatch")
	// ErrInvalidProof is returned when a segment can't be reconstructed at
	// all (missing pieces, malformed identifier).
	ErrInvalidProof = errors.New("segment: invalid proof")
)

// Identifier names a segment: the subtree rooted at the idx-th height-h
// "mountain" of a canonical MMR, covering leaf positions
// [idx*2^h, (idx+1)*2^h).
type Identifier struct {
	Height uint8
	Idx    uint64
}

// LeafEntry is a single unpruned leaf carried by a segment.
type LeafEntry struct {
	LeafIdx uint64
	Payload []byte
}

// HashEntry substitutes the hash of a fully-pruned-away subtree root for
// every leaf position beneath it.
type HashEntry struct {
	NodeIdx uint64
	Hash    []byte
}

// Segment is a self-describing slice of an MMR: the leaves and pruned-root
// hashes needed to reconstruct its own root, plus the sibling peaks needed
// to bag that root into the full MMR root.
type Segment struct {
	ID      Identifier
	Leaves  []LeafEntry
	Hashes  []HashEntry
	Peaks   [][]byte // other full-MMR peak hashes, position order
	HasherF func() hash.Hash
}

func defaultHasher() hash.Hash { return sha256.New() }

// LeafRange returns the half-open range of 0-based leaf indices a segment
// identifier covers.
func (id Identifier) LeafRange() (start, end uint64) {
	count := uint64(1) << id.Height
	start = id.Idx * count
	return start, start + count
}

// rootPos returns the 0-based MMR node index of the segment's own root:
// the perfect subtree of height id.Height whose leftmost leaf is the
// segment's first leaf.
func (id Identifier) rootPos() uint64 {
	start, _ := id.LeafRange()
	firstLeafPos := mmrmath.MMRIndex(start)
	return firstLeafPos + mmrmath.HeightIndexSize(uint64(id.Height)) - 1
}

// FromBackend extracts the segment identified by id from backend, whose
// current size is fullSize. Pruned-root boundaries are read directly from
// backend's own prune list, via [pmmr.Backend.IsPrunedRoot].
func FromBackend(id Identifier, backend *pmmr.Backend, fullSize uint64) (*Segment, error) {
	seg := &Segment{ID: id, HasherF: backend.HasherFactory()}

	root := id.rootPos()
	if err := seg.collect(root, uint64(id.Height), backend, fullSize); err != nil {
		return nil, err
	}

	otherPeaks, err := otherPeakHashes(backend, fullSize, root)
	if err != nil {
		return nil, err
	}
	seg.Peaks = otherPeaks
	return seg, nil
}

// collect walks the local subtree top-down, recording a leaf payload at
// every unpruned leaf and a hash substitute at every pruned-root boundary,
// and recursing no further once a pruned root is hit.
func (s *Segment) collect(pos uint64, height uint64, backend *pmmr.Backend, fullSize uint64) error {
	if pos >= fullSize {
		// Segment extends past the current MMR size (a not-yet-full final
		// segment); nothing to collect here.
		return nil
	}

	if backend.IsPrunedRoot(pos) {
		h, err := backend.GetHash(pos)
		if err != nil {
			return fmt.Errorf("segment: reading pruned root hash at %d: %w", pos, err)
		}
		s.Hashes = append(s.Hashes, HashEntry{NodeIdx: pos, Hash: h})
		return nil
	}

	if height == 0 {
		leafIdx := mmrmath.LeafIndex(pos)
		payload, err := backend.GetData(pos)
		if err != nil {
			return fmt.Errorf("segment: reading leaf %d: %w", leafIdx, err)
		}
		s.Leaves = append(s.Leaves, LeafEntry{LeafIdx: leafIdx, Payload: payload})
		return nil
	}

	left, right := mmrmath.ChildrenOfHeight(pos, height-1)
	if err := s.collect(left, height-1, backend, fullSize); err != nil {
		return err
	}
	return s.collect(right, height-1, backend, fullSize)
}

func otherPeakHashes(backend *pmmr.Backend, fullSize uint64, segmentRoot uint64) ([][]byte, error) {
	var out [][]byte
	for _, p := range mmrmath.Peaks(fullSize) {
		pos := p - 1
		if pos == segmentRoot {
			continue
		}
		h, err := backend.GetHash(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Root reconstructs the segment's own root hash from its leaves and
// pruned-root hash substitutes, recomputing every unpruned interior node
// bottom-up. If every leaf in the segment is pruned away, the single
// entry in Hashes already sits at the root position and is returned as-is.
//
// Assumes every leaf's hash is a deterministic function of its payload
// alone (hash(payload)), matching how every caller in this module appends
// leaves: the hash passed to the MMR backend is always derived from the
// same bytes carried as the leaf's data.
func (s *Segment) Root() ([]byte, error) {
	hasherF := s.HasherF
	if hasherF == nil {
		hasherF = defaultHasher
	}
	hasher := hasherF()

	byPos := make(map[uint64][]byte, len(s.Leaves)+len(s.Hashes))
	for _, l := range s.Leaves {
		pos := mmrmath.MMRIndex(l.LeafIdx)
		hasher.Reset()
		hasher.Write(l.Payload)
		byPos[pos] = hasher.Sum(nil)
	}
	for _, he := range s.Hashes {
		byPos[he.NodeIdx] = he.Hash
	}

	return resolve(s.ID.rootPos(), uint64(s.ID.Height), byPos, hasher)
}

func resolve(pos uint64, height uint64, byPos map[uint64][]byte, hasher hash.Hash) ([]byte, error) {
	if v, ok := byPos[pos]; ok {
		return v, nil
	}
	if height == 0 {
		return nil, fmt.Errorf("%w: missing leaf at %d", ErrInvalidProof, pos)
	}
	left, right := mmrmath.ChildrenOfHeight(pos, height-1)
	lv, err := resolve(left, height-1, byPos, hasher)
	if err != nil {
		return nil, err
	}
	rv, err := resolve(right, height-1, byPos, hasher)
	if err != nil {
		return nil, err
	}
	return mmrmath.HashPosPair64(hasher, pos+1, lv, rv), nil
}

// Validate checks the segment against fullSize and expectedRoot. If
// leafSetComplement is provided (positions absent from the leaf set,
// restricted to the segment's leaf range), the segment's pruned-leaf
// coverage must match it exactly.
func (s *Segment) Validate(fullSize uint64, leafSetComplement *roaring.Bitmap, expectedRoot []byte) error {
	segRoot, err := s.Root()
	if err != nil {
		return err
	}

	hasherF := s.HasherF
	if hasherF == nil {
		hasherF = defaultHasher
	}
	hasher := hasherF()

	peaks := mmrmath.Peaks(fullSize)
	rootPos := s.ID.rootPos()
	hashes := make([][]byte, 0, len(peaks))
	otherIdx := 0
	for _, p := range peaks {
		if p-1 == rootPos {
			hashes = append(hashes, segRoot)
			continue
		}
		if otherIdx >= len(s.Peaks) {
			return fmt.Errorf("%w: not enough peak hashes supplied", ErrInvalidProof)
		}
		hashes = append(hashes, s.Peaks[otherIdx])
		otherIdx++
	}

	got := mmrmath.BagPeaks(hasher, fullSize, hashes)
	if !bytes.Equal(got, expectedRoot) {
		return ErrRootMismatch
	}

	if leafSetComplement != nil {
		start, end := s.ID.LeafRange()
		gotComplement := roaring.New()
		for _, l := range prunedLeafIndices(s, start, end) {
			gotComplement.Add(uint32(l))
		}
		wantComplement := roaring.New()
		it := leafSetComplement.Iterator()
		for it.HasNext() {
			v := it.Next()
			if uint64(v) >= start && uint64(v) < end {
				wantComplement.Add(v)
			}
		}
		if !gotComplement.Equals(wantComplement) {
			return ErrLeafSetMismatch
		}
	}

	return nil
}

// prunedLeafIndices enumerates the leaf indices in [start,end) that are
// not individually carried as a LeafEntry (because some ancestor hash
// substituted for them).
func prunedLeafIndices(s *Segment, start, end uint64) []uint64 {
	present := make(map[uint64]bool, len(s.Leaves))
	for _, l := range s.Leaves {
		present[l.LeafIdx] = true
	}
	var out []uint64
	for l := start; l < end; l++ {
		if !present[l] {
			out = append(out, l)
		}
	}
	return out
}
