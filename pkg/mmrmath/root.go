package mmrmath

import "hash"

// Root computes the bagged MMR root for the given size, reading peak
// hashes from store.
func Root(store NodeGetter, hasher hash.Hash, size uint64) ([]byte, error) {
	positions := Peaks(size)
	hashes := make([][]byte, 0, len(positions))
	for _, p := range positions {
		v, err := store.Get(p - 1)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, v)
	}
	return BagPeaks(hasher, size, hashes), nil
}
