package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// headerRecordSize is the fixed encoded width of a BlockHeader record.
const headerRecordSize = 8 + 32 + 32 + 8 + 2 + 8 + 8 + 8 + 32 + 32 + 32 + 32

func encodeHeader(h chaintypes.BlockHeader) []byte {
	buf := make([]byte, headerRecordSize)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], h.Height)
	off += 8
	copy(buf[off:], h.Hash[:])
	off += 32
	copy(buf[off:], h.PrevHash[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:], uint64(h.Timestamp))
	off += 8
	binary.BigEndian.PutUint16(buf[off:], h.Version)
	off += 2
	binary.BigEndian.PutUint64(buf[off:], h.TotalDifficulty)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.OutputMMRSize)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.KernelMMRSize)
	off += 8
	copy(buf[off:], h.OutputRoot[:])
	off += 32
	copy(buf[off:], h.RangeProofRoot[:])
	off += 32
	copy(buf[off:], h.KernelRoot[:])
	off += 32
	copy(buf[off:], h.TotalKernelOffset[:])
	return buf
}

func decodeHeader(buf []byte) (chaintypes.BlockHeader, error) {
	if len(buf) != headerRecordSize {
		return chaintypes.BlockHeader{}, fmt.Errorf("chain: corrupt header record: got %d bytes, want %d", len(buf), headerRecordSize)
	}
	var h chaintypes.BlockHeader
	off := 0
	h.Height = binary.BigEndian.Uint64(buf[off:])
	off += 8
	copy(h.Hash[:], buf[off:])
	off += 32
	copy(h.PrevHash[:], buf[off:])
	off += 32
	h.Timestamp = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	h.Version = binary.BigEndian.Uint16(buf[off:])
	off += 2
	h.TotalDifficulty = binary.BigEndian.Uint64(buf[off:])
	off += 8
	h.OutputMMRSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	h.KernelMMRSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	copy(h.OutputRoot[:], buf[off:])
	off += 32
	copy(h.RangeProofRoot[:], buf[off:])
	off += 32
	copy(h.KernelRoot[:], buf[off:])
	off += 32
	copy(h.TotalKernelOffset[:], buf[off:])
	return h, nil
}

// checkpoint is the per-accepted-block record needed to rewind past it: the
// backend sizes immediately after the block applied, and the output
// positions it removed from the live set (grin's rewind_rm_pos), which
// must be re-marked unspent when this block is undone.
type checkpoint struct {
	header       chaintypes.BlockHeader
	outputSize   uint64
	proofSize    uint64
	kernelSize   uint64
	outputLeaves uint64
	proofLeaves  uint64
	kernelLeaves uint64
	spentOutPos  []uint64
	// nrdExcesses are the NoRecentDuplicate kernel excesses this block
	// pushed onto the NRD index, so rewinding past it knows which
	// commitments' lists to unwind.
	nrdExcesses []chaintypes.Commitment
	// sums is the caller-supplied running UTXO/kernel commitment sum as of
	// this block; the chain persists and returns it verbatim rather than
	// computing it, since the homomorphic sum over Pedersen commitments is
	// the elliptic-curve arithmetic this module treats as opaque.
	sums chaintypes.BlockSums
}

func encodeCheckpoint(cp checkpoint) []byte {
	buf := make([]byte, 0, headerRecordSize+48+8+8*len(cp.spentOutPos))
	buf = append(buf, encodeHeader(cp.header)...)

	var sizes [48]byte
	binary.BigEndian.PutUint64(sizes[0:], cp.outputSize)
	binary.BigEndian.PutUint64(sizes[8:], cp.proofSize)
	binary.BigEndian.PutUint64(sizes[16:], cp.kernelSize)
	binary.BigEndian.PutUint64(sizes[24:], cp.outputLeaves)
	binary.BigEndian.PutUint64(sizes[32:], cp.proofLeaves)
	binary.BigEndian.PutUint64(sizes[40:], cp.kernelLeaves)
	buf = append(buf, sizes[:]...)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(cp.spentOutPos)))
	buf = append(buf, n[:]...)
	for _, pos := range cp.spentOutPos {
		var p [8]byte
		binary.BigEndian.PutUint64(p[:], pos)
		buf = append(buf, p[:]...)
	}

	var m [8]byte
	binary.BigEndian.PutUint64(m[:], uint64(len(cp.nrdExcesses)))
	buf = append(buf, m[:]...)
	for _, c := range cp.nrdExcesses {
		buf = append(buf, c[:]...)
	}

	buf = append(buf, cp.sums.UTXOSum[:]...)
	buf = append(buf, cp.sums.KernelSum[:]...)
	return buf
}

func decodeCheckpoint(buf []byte) (checkpoint, error) {
	if len(buf) < headerRecordSize+48+8+8+2*chaintypes.CommitmentSize {
		return checkpoint{}, fmt.Errorf("chain: corrupt checkpoint record: %d bytes", len(buf))
	}
	h, err := decodeHeader(buf[:headerRecordSize])
	if err != nil {
		return checkpoint{}, err
	}
	off := headerRecordSize
	cp := checkpoint{header: h}
	cp.outputSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	cp.proofSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	cp.kernelSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	cp.outputLeaves = binary.BigEndian.Uint64(buf[off:])
	off += 8
	cp.proofLeaves = binary.BigEndian.Uint64(buf[off:])
	off += 8
	cp.kernelLeaves = binary.BigEndian.Uint64(buf[off:])
	off += 8
	n := binary.BigEndian.Uint64(buf[off:])
	off += 8
	if uint64(len(buf)-off) < n*8 {
		return checkpoint{}, fmt.Errorf("chain: corrupt checkpoint spent-position list: expected %d entries", n)
	}
	cp.spentOutPos = make([]uint64, n)
	for i := range cp.spentOutPos {
		cp.spentOutPos[i] = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}

	if len(buf)-off < 8 {
		return checkpoint{}, fmt.Errorf("chain: corrupt checkpoint: missing NRD excess count")
	}
	m := binary.BigEndian.Uint64(buf[off:])
	off += 8
	if uint64(len(buf)-off) != m*chaintypes.CommitmentSize+2*chaintypes.CommitmentSize {
		return checkpoint{}, fmt.Errorf("chain: corrupt checkpoint NRD excess list: expected %d entries", m)
	}
	cp.nrdExcesses = make([]chaintypes.Commitment, m)
	for i := range cp.nrdExcesses {
		copy(cp.nrdExcesses[i][:], buf[off:])
		off += chaintypes.CommitmentSize
	}

	copy(cp.sums.UTXOSum[:], buf[off:])
	off += chaintypes.CommitmentSize
	copy(cp.sums.KernelSum[:], buf[off:])
	off += chaintypes.CommitmentSize
	return cp, nil
}
