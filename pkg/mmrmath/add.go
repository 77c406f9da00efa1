package mmrmath

import "hash"

// NodeAppender is the minimal storage surface [AddHashedLeaf] needs: append
// a record and read one back by 0-based index. It is satisfied equally by
// an in-memory slice, a file-backed hash store, or a staging MMR used
// while applying PIBD segments.
type NodeAppender interface {
	Get(i uint64) ([]byte, error)
	Append(value []byte) (uint64, error)
}

// AddHashedLeaf appends a single already-hashed leaf and back-fills every
// interior node the append now completes. Returns the new MMR size, which
// is also the 0-based index the next leaf will be appended to.
//
// After appending at index i, we keep climbing while the position after i
// would sit higher in the tree than i itself - that is exactly the
// condition under which i was the right-hand child of a newly completed
// parent.
func AddHashedLeaf(store NodeAppender, hasher hash.Hash, hashedLeaf []byte) (uint64, error) {
	var err error
	var i uint64

	height := uint64(0)

	if i, err = store.Append(hashedLeaf); err != nil {
		return 0, err
	}

	for IndexHeight(i+1) > height {
		iLeft := i + 1 - (2 << height)
		iRight := i

		hasher.Reset()
		HashWriteUint64(hasher, i+2)

		left, err := store.Get(iLeft)
		if err != nil {
			return 0, err
		}
		hasher.Write(left)

		right, err := store.Get(iRight)
		if err != nil {
			return 0, err
		}
		hasher.Write(right)

		if i, err = store.Append(hasher.Sum(nil)); err != nil {
			return 0, err
		}
		height++
	}
	return i + 1, nil
}
