package bloomfilter

import "crypto/sha256"

const domain = 0xB0

// Init initializes a zero-filled region with a Header.
//
// The caller must allocate region with at least RegionBytes(mBits), where
// mBits = uint32(bitsPerElement * expectedElements).
func Init(region []byte, expectedElements uint64, bitsPerElement uint64, k uint8) error {
	if expectedElements == 0 || bitsPerElement == 0 {
		return ErrBadMBits
	}
	if err := CheckBPE(bitsPerElement); err != nil {
		return err
	}
	mBits := MBitsSafeCast(MBits(expectedElements, bitsPerElement))
	if mBits == 0 {
		return ErrMBitsOverflow
	}
	need := RegionBytes(mBits)
	if uint64(len(region)) < need {
		return ErrBadRegionSize
	}

	clear(region[:need])
	return EncodeHeader(region, Header{
		BitOrder:  BitOrderLSB0,
		K:         k,
		MBits:     mBits,
		NInserted: 0,
	})
}

// Insert adds elem to the filter and increments NInserted in the header.
func Insert(region []byte, elem []byte) error {
	if len(elem) != ValueBytes {
		return ErrBadElemSize
	}

	h, ok, err := DecodeHeader(region)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}

	bitset, err := bitsetOf(region, h)
	if err != nil {
		return err
	}

	h1, h2 := hashPair(elem)
	setBits(bitset, uint64(h.MBits), h.K, h1, h2)

	h.NInserted++
	return EncodeHeader(region, h)
}

// MaybeContains checks membership for elem.
//
// Returns (false,nil) if the filter says "definitely not present".
// Returns (true,nil) if the filter says "maybe present".
func MaybeContains(region []byte, elem []byte) (bool, error) {
	if len(elem) != ValueBytes {
		return false, ErrBadElemSize
	}

	h, ok, err := DecodeHeader(region)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotInitialized
	}

	bitset, err := bitsetOf(region, h)
	if err != nil {
		return false, err
	}

	h1, h2 := hashPair(elem)
	return testBits(bitset, uint64(h.MBits), h.K, h1, h2), nil
}

func bitsetOf(region []byte, h Header) ([]byte, error) {
	bitsetBytes := BitsetBytes(h.MBits)
	end := uint64(HeaderBytes) + uint64(bitsetBytes)
	if uint64(len(region)) < end {
		return nil, ErrBadRegionSize
	}
	return region[HeaderBytes:end], nil
}

func hashPair(elem32 []byte) (h1 uint64, h2 uint64) {
	// SHA-256( 0xB0 || elem32 )
	var buf [1 + ValueBytes]byte
	buf[0] = domain
	copy(buf[1:], elem32)
	sum := sha256.Sum256(buf[:])
	h1 = readU64BE(sum[0:8])
	h2 = readU64BE(sum[8:16])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func setBits(bitset []byte, mBits uint64, k uint8, h1, h2 uint64) {
	for i := uint64(0); i < uint64(k); i++ {
		j := (h1 + i*h2) % mBits
		byteIdx := j >> 3
		bit := uint8(j & 7)
		bitset[byteIdx] |= 1 << bit
	}
}

func testBits(bitset []byte, mBits uint64, k uint8, h1, h2 uint64) bool {
	for i := uint64(0); i < uint64(k); i++ {
		j := (h1 + i*h2) % mBits
		byteIdx := j >> 3
		bit := uint8(j & 7)
		if bitset[byteIdx]&(1<<bit) == 0 {
			return false
		}
	}
	return true
}
