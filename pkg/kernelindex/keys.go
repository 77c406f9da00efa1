package kernelindex

import (
	"encoding/binary"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// listKey returns [prefix_list_byte] || commit[0..33], the key holding a
// commitment's wrapper record.
func (ix *Index) listKey(commit chaintypes.Commitment) []byte {
	out := make([]byte, 0, 1+chaintypes.CommitmentSize)
	out = append(out, ix.listPrefix)
	out = append(out, commit[:]...)
	return out
}

// entryKey returns [prefix_entry_byte] || commit[0..33] || pos_u64_be, the
// key holding one node of a commitment's linked list.
func (ix *Index) entryKey(commit chaintypes.Commitment, pos uint64) []byte {
	out := make([]byte, 0, 1+chaintypes.CommitmentSize+8)
	out = append(out, ix.entryPrefix)
	out = append(out, commit[:]...)
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], pos)
	out = append(out, posBuf[:]...)
	return out
}
