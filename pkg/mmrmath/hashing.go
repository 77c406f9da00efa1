package mmrmath

import (
	"encoding/binary"
	"hash"
)

// HashWriteUint64 feeds value, big-endian, into hasher.
func HashWriteUint64(hasher hash.Hash, value uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], value)
	hasher.Write(b[:])
}

// HashPosPair64 returns H(pos || a || b). The interior-node position is
// folded into the hash so that a given pair of child hashes commits to a
// unique position in the tree; two equal subtrees appended at different
// points in the MMR never collide.
func HashPosPair64(hasher hash.Hash, pos uint64, a, b []byte) []byte {
	hasher.Reset()
	HashWriteUint64(hasher, pos)
	hasher.Write(a)
	hasher.Write(b)
	return hasher.Sum(nil)
}

// IncludedRoot recomputes the accumulator peak that must have committed
// nodeHash at 0-based index i, given its inclusion proof (the sequence of
// sibling hashes from i up to its peak). Works identically for leaf and
// interior nodes.
func IncludedRoot(hasher hash.Hash, i uint64, nodeHash []byte, proof [][]byte) []byte {
	root := nodeHash
	g := IndexHeight(i)

	for _, sibling := range proof {
		if IndexHeight(i+1) > g {
			// i is the right child; its parent sits immediately after it.
			i++
			root = HashPosPair64(hasher, i+1, sibling, root)
		} else {
			// i is the left child; its parent sits after its right sibling.
			i += 2 << g
			root = HashPosPair64(hasher, i+1, root, sibling)
		}
		g++
	}
	return root
}

// BagPeaks folds a list of peak hashes (ascending position, i.e. tallest
// first) into a single MMR root, prefixed by size. Bagging proceeds
// right-to-left: the rightmost two peaks are combined first, then that
// result is combined with the next peak to the left, and so on, with the
// position of each combining node fixed at size+1 (the position the
// bagged root would occupy if the accumulator were itself a node).
func BagPeaks(hasher hash.Hash, size uint64, peakHashes [][]byte) []byte {
	if len(peakHashes) == 0 {
		hasher.Reset()
		HashWriteUint64(hasher, size)
		return hasher.Sum(nil)
	}

	bagged := peakHashes[len(peakHashes)-1]
	for i := len(peakHashes) - 2; i >= 0; i-- {
		hasher.Reset()
		HashWriteUint64(hasher, size+1)
		hasher.Write(peakHashes[i])
		hasher.Write(bagged)
		bagged = hasher.Sum(nil)
	}

	hasher.Reset()
	HashWriteUint64(hasher, size)
	hasher.Write(bagged)
	return hasher.Sum(nil)
}
