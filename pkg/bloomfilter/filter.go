package bloomfilter

import "crypto/sha256"

// Filter is a single in-memory bloom filter sized for an expected element
// count. It is used as a cheap pre-check ahead of an exact membership test
// - e.g. the pool's duplicate-transaction check before it walks the pool's
// actual entry map - so the only operations it exposes are the ones that
// access pattern needs: add on admission, test-before-scan on lookup, and
// a full reset once the pool's entry set has been rebuilt from scratch
// (see Reset).
type Filter struct {
	region []byte

	// expectedElements, bitsPerElement and k are retained from construction
	// so Reset can reinitialize region in place at the same capacity.
	expectedElements uint64
	bitsPerElement   uint64
	k                uint8
}

// NewFilter allocates a filter sized for expectedElements at bitsPerElement
// bits/element and k hash rounds.
func NewFilter(expectedElements uint64, bitsPerElement uint64, k uint8) (*Filter, error) {
	mBits := MBitsSafeCast(MBits(expectedElements, bitsPerElement))
	if mBits == 0 {
		return nil, ErrMBitsOverflow
	}
	region := make([]byte, RegionBytes(mBits))
	if err := Init(region, expectedElements, bitsPerElement, k); err != nil {
		return nil, err
	}
	return &Filter{
		region:           region,
		expectedElements: expectedElements,
		bitsPerElement:   bitsPerElement,
		k:                k,
	}, nil
}

// digest reduces an arbitrary-length key to the fixed 32-byte element width.
func digest(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

// Add records key as present.
func (f *Filter) Add(key []byte) error {
	return Insert(f.region, digest(key))
}

// MaybeContains reports whether key may be present (false means definitely
// not present).
func (f *Filter) MaybeContains(key []byte) (bool, error) {
	return MaybeContains(f.region, digest(key))
}

// Inserted returns the number of elements added so far.
func (f *Filter) Inserted() uint32 {
	h, _, _ := DecodeHeader(f.region)
	return h.NInserted
}

// Reset reinitializes f in place to the same capacity it was built with,
// for the pool's Reconcile path (which rebuilds its entry set from scratch
// and needs the pre-check filter cleared rather than a freshly allocated
// one).
func (f *Filter) Reset() error {
	return Init(f.region, f.expectedElements, f.bitsPerElement, f.k)
}
