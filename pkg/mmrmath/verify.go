package mmrmath

import (
	"bytes"
	"hash"
)

// VerifyInclusionPath checks that combining leafHash with proof, following
// the path from 0-based index iNode upward, reproduces root. It returns
// how many proof elements were actually consumed in doing so, which lets
// a caller concatenate two proofs (e.g. a segment-internal path followed
// by a path of peaks) and know where the second one should resume.
func VerifyInclusionPath(hasher hash.Hash, leafHash []byte, iNode uint64, proof [][]byte, root []byte) (bool, int) {
	if len(proof) == 0 {
		return bytes.Equal(leafHash, root), 0
	}

	pos := iNode + 1
	heightIndex := PosHeight(pos)
	elementHash := leafHash

	for iProof, p := range proof {
		hasher.Reset()
		if PosHeight(pos+1) > heightIndex {
			pos++
			HashWriteUint64(hasher, pos)
			hasher.Write(p)
			hasher.Write(elementHash)
		} else {
			pos += 2 << heightIndex
			HashWriteUint64(hasher, pos)
			hasher.Write(elementHash)
			hasher.Write(p)
		}
		elementHash = hasher.Sum(nil)

		if bytes.Equal(elementHash, root) {
			return true, iProof + 1
		}
		heightIndex++
	}
	return false, len(proof)
}

// VerifyInclusion checks that leafHash is included at 0-based index iNode
// in an MMR of size mmrSize, whose node peaks (in [Peaks] order, hashed)
// are supplied by caller via store.
func VerifyInclusion(store NodeGetter, hasher hash.Hash, mmrSize uint64, leafHash []byte, iNode uint64, proof [][]byte) (bool, error) {
	peakPositions := Peaks(mmrSize)
	peakHashes := make([][]byte, 0, len(peakPositions))
	for _, p := range peakPositions {
		v, err := store.Get(p - 1)
		if err != nil {
			return false, err
		}
		peakHashes = append(peakHashes, v)
	}

	root := IncludedRoot(hasher, iNode, leafHash, proof)
	for _, ph := range peakHashes {
		if bytes.Equal(root, ph) {
			return true, nil
		}
	}
	return false, nil
}
