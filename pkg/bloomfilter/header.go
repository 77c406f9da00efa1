package bloomfilter

import "bytes"

// DecodeHeader decodes a header from region.
//
// ok=false indicates the region is zero-filled / uninitialized.
func DecodeHeader(region []byte) (h Header, ok bool, err error) {
	if len(region) < HeaderBytes {
		return Header{}, false, ErrBadRegionSize
	}

	if bytes.Equal(region[0:4], []byte{0, 0, 0, 0}) {
		return Header{}, false, nil
	}

	if string(region[0:4]) != Magic {
		return Header{}, false, ErrBadMagic
	}
	if region[4] != Version {
		return Header{}, false, ErrBadVersion
	}

	h.BitOrder = region[5]
	h.K = region[6]
	// region[7] is reserved padding.
	h.MBits = readU32BE(region[8:12])
	h.NInserted = readU32BE(region[12:16])

	if h.BitOrder != BitOrderLSB0 {
		return Header{}, false, ErrBadBitOrder
	}
	if h.K == 0 {
		return Header{}, false, ErrBadK
	}
	if h.MBits == 0 {
		return Header{}, false, ErrBadMBits
	}

	return h, true, nil
}

// EncodeHeader writes a header into region.
func EncodeHeader(region []byte, h Header) error {
	if len(region) < HeaderBytes {
		return ErrBadRegionSize
	}
	if h.BitOrder != BitOrderLSB0 {
		return ErrBadBitOrder
	}
	if h.K == 0 {
		return ErrBadK
	}
	if h.MBits == 0 {
		return ErrBadMBits
	}

	copy(region[0:4], []byte(Magic))
	region[4] = Version
	region[5] = h.BitOrder
	region[6] = h.K
	region[7] = 0
	writeU32BE(region[8:12], h.MBits)
	writeU32BE(region[12:16], h.NInserted)
	return nil
}
