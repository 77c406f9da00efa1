package bloomfilter

import "errors"

const (
	// ValueBytes is the fixed element width: a 32-byte digest of whatever
	// key is being pre-checked (a kernel excess commitment, a transaction
	// id - anything the caller reduces to 32 bytes before calling in).
	ValueBytes = 32

	// HeaderBytes is the fixed header size prefixing a filter region.
	HeaderBytes = 16

	Magic         = "BLM1"
	Version uint8 = 1

	// BitOrderLSB0 means bit 0 is the least-significant bit of byte 0.
	BitOrderLSB0 uint8 = 0
)

var (
	ErrBadElemSize    = errors.New("bloomfilter: element must be 32 bytes")
	ErrBadRegionSize  = errors.New("bloomfilter: region buffer too small")
	ErrNotInitialized = errors.New("bloomfilter: header not initialized")

	ErrBadMagic    = errors.New("bloomfilter: header magic invalid")
	ErrBadVersion  = errors.New("bloomfilter: header version invalid")
	ErrBadBitOrder = errors.New("bloomfilter: header bitOrder unsupported")
	ErrBadK        = errors.New("bloomfilter: header k invalid")
	ErrBadMBits    = errors.New("bloomfilter: header mBits invalid")

	ErrMBitsOverflow = errors.New("bloomfilter: mBits overflows supported range")
)

// Header is the fixed-layout header prefixing a filter region.
type Header struct {
	BitOrder  uint8
	K         uint8
	MBits     uint32
	NInserted uint32
}
