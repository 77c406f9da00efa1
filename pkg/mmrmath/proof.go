package mmrmath

import "errors"

// ErrIndexOutOfRange is returned when a proof is requested for a node past
// the end of the MMR the proof is being drawn against.
var ErrIndexOutOfRange = errors.New("mmrmath: index out of range")

// NodeGetter reads a stored node hash by 0-based index.
type NodeGetter interface {
	Get(i uint64) ([]byte, error)
}

// InclusionProofPath returns the 0-based indices of the sibling nodes
// needed to walk node i up to the peak that commits it, given an MMR
// whose last valid index is mmrLastIndex.
func InclusionProofPath(mmrLastIndex uint64, i uint64) ([]uint64, error) {
	if i > mmrLastIndex {
		return nil, ErrIndexOutOfRange
	}

	var path []uint64
	g := IndexHeight(i)

	for {
		siblingOffset := uint64(2) << g
		var iSibling uint64

		if IndexHeight(i+1) > g {
			iSibling = i - siblingOffset + 1
			i++
		} else {
			iSibling = i + siblingOffset - 1
			i += siblingOffset
		}

		if iSibling > mmrLastIndex {
			return path, nil
		}
		path = append(path, iSibling)
		g++
	}
}

// InclusionProof reads the sibling hashes named by [InclusionProofPath]
// from store.
func InclusionProof(store NodeGetter, mmrLastIndex uint64, i uint64) ([][]byte, error) {
	path, err := InclusionProofPath(mmrLastIndex, i)
	if err != nil {
		return nil, err
	}
	proof := make([][]byte, 0, len(path))
	for _, idx := range path {
		v, err := store.Get(idx)
		if err != nil {
			return nil, err
		}
		proof = append(proof, v)
	}
	return proof, nil
}
