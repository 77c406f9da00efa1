package chain

import (
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/mimblenode/node/pkg/chaintypes"
)

const (
	prefixHeaderByHash   = 'h'
	prefixHashByHeight   = 'H'
	prefixCheckpoint     = 'c'
	prefixState          = 's'
)

var keyTip = []byte{prefixState, 't'}
var keyHeaderHead = []byte{prefixState, 'H'}

// store is the chain's own key-value state: headers indexed by hash and by
// height, per-block checkpoints for rewind, and the persisted tip/header
// head pointers. Backed by the same embedded database technology as
// pkg/kernelindex, kept in a separate file so the NRD index and the chain
// index can be compacted independently.
type store struct {
	db          *leveldb.DB
	headerCache *lru.Cache[chaintypes.Hash, chaintypes.BlockHeader]
}

func openStore(path string, headerCacheSize int) (*store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: opening header store: %w", err)
	}
	if headerCacheSize <= 0 {
		headerCacheSize = 256
	}
	cache, err := lru.New[chaintypes.Hash, chaintypes.BlockHeader](headerCacheSize)
	if err != nil {
		return nil, err
	}
	return &store{db: db, headerCache: cache}, nil
}

func (s *store) close() error { return s.db.Close() }

func headerKey(hash chaintypes.Hash) []byte {
	k := make([]byte, 1+chaintypes.HashSize)
	k[0] = prefixHeaderByHash
	copy(k[1:], hash[:])
	return k
}

func heightKey(height uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefixHashByHeight
	binary.BigEndian.PutUint64(k[1:], height)
	return k
}

func checkpointKey(hash chaintypes.Hash) []byte {
	k := make([]byte, 1+chaintypes.HashSize)
	k[0] = prefixCheckpoint
	copy(k[1:], hash[:])
	return k
}

func (s *store) putHeader(batch *leveldb.Batch, h chaintypes.BlockHeader) {
	batch.Put(headerKey(h.Hash), encodeHeader(h))
	s.headerCache.Add(h.Hash, h)
}

func (s *store) getHeader(hash chaintypes.Hash) (chaintypes.BlockHeader, bool, error) {
	if h, ok := s.headerCache.Get(hash); ok {
		return h, true, nil
	}
	raw, err := s.db.Get(headerKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return chaintypes.BlockHeader{}, false, nil
	}
	if err != nil {
		return chaintypes.BlockHeader{}, false, err
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return chaintypes.BlockHeader{}, false, err
	}
	s.headerCache.Add(hash, h)
	return h, true, nil
}

func (s *store) putHeightIndex(batch *leveldb.Batch, height uint64, hash chaintypes.Hash) {
	batch.Put(heightKey(height), hash[:])
}

func (s *store) getHashAtHeight(height uint64) (chaintypes.Hash, bool, error) {
	raw, err := s.db.Get(heightKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return chaintypes.Hash{}, false, nil
	}
	if err != nil {
		return chaintypes.Hash{}, false, err
	}
	var hash chaintypes.Hash
	copy(hash[:], raw)
	return hash, true, nil
}

func (s *store) putCheckpoint(batch *leveldb.Batch, cp checkpoint) {
	batch.Put(checkpointKey(cp.header.Hash), encodeCheckpoint(cp))
}

func (s *store) getCheckpoint(hash chaintypes.Hash) (checkpoint, bool, error) {
	raw, err := s.db.Get(checkpointKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return checkpoint{}, false, nil
	}
	if err != nil {
		return checkpoint{}, false, err
	}
	cp, err := decodeCheckpoint(raw)
	if err != nil {
		return checkpoint{}, false, err
	}
	return cp, true, nil
}

func encodeTip(t chaintypes.Tip) []byte {
	buf := make([]byte, 8+32+32+8)
	binary.BigEndian.PutUint64(buf[0:], t.Height)
	copy(buf[8:], t.Hash[:])
	copy(buf[40:], t.PrevHash[:])
	binary.BigEndian.PutUint64(buf[72:], t.TotalDifficulty)
	return buf
}

func decodeTip(buf []byte) (chaintypes.Tip, error) {
	if len(buf) != 80 {
		return chaintypes.Tip{}, fmt.Errorf("chain: corrupt tip record: %d bytes", len(buf))
	}
	var t chaintypes.Tip
	t.Height = binary.BigEndian.Uint64(buf[0:])
	copy(t.Hash[:], buf[8:40])
	copy(t.PrevHash[:], buf[40:72])
	t.TotalDifficulty = binary.BigEndian.Uint64(buf[72:])
	return t, nil
}

func (s *store) putTip(batch *leveldb.Batch, t chaintypes.Tip) {
	batch.Put(keyTip, encodeTip(t))
}

func (s *store) getTip() (chaintypes.Tip, bool, error) {
	raw, err := s.db.Get(keyTip, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return chaintypes.Tip{}, false, nil
	}
	if err != nil {
		return chaintypes.Tip{}, false, err
	}
	t, err := decodeTip(raw)
	return t, true, err
}

func (s *store) putHeaderHead(batch *leveldb.Batch, t chaintypes.Tip) {
	batch.Put(keyHeaderHead, encodeTip(t))
}

func (s *store) getHeaderHead() (chaintypes.Tip, bool, error) {
	raw, err := s.db.Get(keyHeaderHead, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return chaintypes.Tip{}, false, nil
	}
	if err != nil {
		return chaintypes.Tip{}, false, err
	}
	t, err := decodeTip(raw)
	return t, true, err
}

func (s *store) commit(batch *leveldb.Batch) error {
	return s.db.Write(batch, nil)
}
