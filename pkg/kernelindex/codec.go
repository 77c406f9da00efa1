package kernelindex

import (
	"encoding/binary"
	"fmt"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// Variant tags. Wrapper variants start at 0, entry variants at 2, matching
// the upstream convention of keeping the two tag spaces visibly disjoint
// even though they're never decoded with the same switch.
const (
	wrapperSingle byte = 0
	wrapperMulti  byte = 1

	entryHead   byte = 2
	entryTail   byte = 3
	entryMiddle byte = 4
)

// wrapper is the value stored at a list key: either a single embedded pos
// (the common case) or the head/tail positions of a multi-entry list.
type wrapper struct {
	isSingle  bool
	singlePos chaintypes.CommitPos
	head      uint64
	tail      uint64
}

func encodeCommitPos(pos chaintypes.CommitPos) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], pos.Pos)
	binary.BigEndian.PutUint64(buf[8:16], pos.Height)
	return buf
}

func decodeCommitPos(b []byte) (chaintypes.CommitPos, error) {
	if len(b) < 16 {
		return chaintypes.CommitPos{}, fmt.Errorf("%w: short commit-pos encoding", ErrCorrupted)
	}
	return chaintypes.CommitPos{
		Pos:    binary.BigEndian.Uint64(b[0:8]),
		Height: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func encodeWrapperSingle(pos chaintypes.CommitPos) []byte {
	out := make([]byte, 0, 1+16)
	out = append(out, wrapperSingle)
	out = append(out, encodeCommitPos(pos)...)
	return out
}

func encodeWrapperMulti(head, tail uint64) []byte {
	out := make([]byte, 1+8+8)
	out[0] = wrapperMulti
	binary.BigEndian.PutUint64(out[1:9], head)
	binary.BigEndian.PutUint64(out[9:17], tail)
	return out
}

func decodeWrapper(b []byte) (wrapper, error) {
	if len(b) == 0 {
		return wrapper{}, fmt.Errorf("%w: empty list wrapper", ErrCorrupted)
	}
	switch b[0] {
	case wrapperSingle:
		pos, err := decodeCommitPos(b[1:])
		if err != nil {
			return wrapper{}, err
		}
		return wrapper{isSingle: true, singlePos: pos}, nil
	case wrapperMulti:
		if len(b) < 1+16 {
			return wrapper{}, fmt.Errorf("%w: short multi wrapper", ErrCorrupted)
		}
		head := binary.BigEndian.Uint64(b[1:9])
		tail := binary.BigEndian.Uint64(b[9:17])
		return wrapper{head: head, tail: tail}, nil
	default:
		return wrapper{}, fmt.Errorf("%w: unexpected wrapper variant %d", ErrUnexpectedVariant, b[0])
	}
}

// entry is the value stored at an individual entry key: the commit-pos the
// entry carries plus the linked-list neighbours relevant to its variant.
type entry struct {
	variant byte
	pos     chaintypes.CommitPos
	next    uint64 // valid for head, middle
	prev    uint64 // valid for tail, middle
}

func encodeEntryHead(pos chaintypes.CommitPos, next uint64) []byte {
	out := make([]byte, 1+16+8)
	out[0] = entryHead
	copy(out[1:17], encodeCommitPos(pos))
	binary.BigEndian.PutUint64(out[17:25], next)
	return out
}

func encodeEntryTail(pos chaintypes.CommitPos, prev uint64) []byte {
	out := make([]byte, 1+16+8)
	out[0] = entryTail
	copy(out[1:17], encodeCommitPos(pos))
	binary.BigEndian.PutUint64(out[17:25], prev)
	return out
}

func encodeEntryMiddle(pos chaintypes.CommitPos, next, prev uint64) []byte {
	out := make([]byte, 1+16+8+8)
	out[0] = entryMiddle
	copy(out[1:17], encodeCommitPos(pos))
	binary.BigEndian.PutUint64(out[17:25], next)
	binary.BigEndian.PutUint64(out[25:33], prev)
	return out
}

func decodeEntry(b []byte) (entry, error) {
	if len(b) == 0 {
		return entry{}, fmt.Errorf("%w: empty list entry", ErrCorrupted)
	}
	pos, err := decodeCommitPos(b[1:])
	if err != nil {
		return entry{}, err
	}
	switch b[0] {
	case entryHead:
		if len(b) < 1+16+8 {
			return entry{}, fmt.Errorf("%w: short head entry", ErrCorrupted)
		}
		return entry{variant: entryHead, pos: pos, next: binary.BigEndian.Uint64(b[17:25])}, nil
	case entryTail:
		if len(b) < 1+16+8 {
			return entry{}, fmt.Errorf("%w: short tail entry", ErrCorrupted)
		}
		return entry{variant: entryTail, pos: pos, prev: binary.BigEndian.Uint64(b[17:25])}, nil
	case entryMiddle:
		if len(b) < 1+16+8+8 {
			return entry{}, fmt.Errorf("%w: short middle entry", ErrCorrupted)
		}
		return entry{
			variant: entryMiddle,
			pos:     pos,
			next:    binary.BigEndian.Uint64(b[17:25]),
			prev:    binary.BigEndian.Uint64(b[25:33]),
		}, nil
	default:
		return entry{}, fmt.Errorf("%w: unexpected entry variant %d", ErrUnexpectedVariant, b[0])
	}
}
