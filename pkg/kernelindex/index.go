// Package kernelindex implements the recent-kernel duplicate (NRD) index:
// a key-prefixed linked list per kernel-excess commitment, stored in an
// embedded key-value database, ordered by MMR position descending (most
// recent push at the head). A commitment with exactly one entry is stored
// as a "Single" wrapper embedding its position directly; a second push
// promotes it to a "Multi" wrapper referencing a head and tail entry.
//
// The NRD rule itself - "peek the most recent prior position for this
// excess, and reject if it's too close" - is not implemented here; this
// package only maintains the list. The rule is applied by whichever caller
// decides what counts as "too close" (the chain pipeline, consulting a
// kernel's relative-height lock).
package kernelindex

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mimblenode/node/pkg/chaintypes"
)

var (
	// ErrNotMonotonic is returned by Push when new_pos does not exceed
	// every position already recorded for the commitment.
	ErrNotMonotonic = errors.New("kernelindex: pos must be increasing")
	// ErrUnexpectedVariant is returned when a decoded record's tag byte
	// doesn't match what the call site expected to find there.
	ErrUnexpectedVariant = errors.New("kernelindex: unexpected variant")
	// ErrMissingEntry is returned when a wrapper references an entry key
	// that isn't actually present.
	ErrMissingEntry = errors.New("kernelindex: missing entry")
	// ErrCorrupted is returned when a stored record can't be decoded.
	ErrCorrupted = errors.New("kernelindex: corrupted record")
)

// Index is the on-disk linked-list index, backed by a LevelDB instance
// (pkg/chain opens a dedicated one for it), with its records kept under
// its list/entry key prefixes.
type Index struct {
	db          *leveldb.DB
	listPrefix  byte
	entryPrefix byte
}

// Open opens (creating if absent) a LevelDB store at dir and returns an
// Index using the given list/entry key prefixes. Distinct prefixes let
// several indices (e.g. one per kernel feature class) share one database.
func Open(dir string, listPrefix, entryPrefix byte) (*Index, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("kernelindex: opening %s: %w", dir, err)
	}
	return &Index{db: db, listPrefix: listPrefix, entryPrefix: entryPrefix}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// Commit atomically applies every write staged in batch.
func (ix *Index) Commit(batch *leveldb.Batch) error {
	return ix.db.Write(batch, nil)
}

func (ix *Index) getWrapper(commit chaintypes.Commitment) (wrapper, bool, error) {
	raw, err := ix.db.Get(ix.listKey(commit), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return wrapper{}, false, nil
	}
	if err != nil {
		return wrapper{}, false, err
	}
	w, err := decodeWrapper(raw)
	if err != nil {
		return wrapper{}, false, err
	}
	return w, true, nil
}

func (ix *Index) getEntry(commit chaintypes.Commitment, pos uint64) (entry, bool, error) {
	raw, err := ix.db.Get(ix.entryKey(commit, pos), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

// Peek returns the most recently pushed position for commit, i.e. the
// current head of its list, or false if the commitment has no entries.
func (ix *Index) Peek(commit chaintypes.Commitment) (chaintypes.CommitPos, bool, error) {
	w, ok, err := ix.getWrapper(commit)
	if err != nil || !ok {
		return chaintypes.CommitPos{}, false, err
	}
	if w.isSingle {
		return w.singlePos, true, nil
	}
	head, ok, err := ix.getEntry(commit, w.head)
	if err != nil {
		return chaintypes.CommitPos{}, false, err
	}
	if !ok || head.variant != entryHead {
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: expected head entry at %d", ErrMissingEntry, w.head)
	}
	return head.pos, true, nil
}

// Push adds newPos to the front of commit's list. newPos.Pos must exceed
// every position already present for commit, mirroring the MMR's
// append-only order.
func (ix *Index) Push(batch *leveldb.Batch, commit chaintypes.Commitment, newPos chaintypes.CommitPos) error {
	w, ok, err := ix.getWrapper(commit)
	if err != nil {
		return err
	}

	if !ok {
		batch.Put(ix.listKey(commit), encodeWrapperSingle(newPos))
		return nil
	}

	if w.isSingle {
		if newPos.Pos <= w.singlePos.Pos {
			return ErrNotMonotonic
		}
		head := encodeEntryHead(newPos, w.singlePos.Pos)
		tail := encodeEntryTail(w.singlePos, newPos.Pos)
		batch.Put(ix.entryKey(commit, newPos.Pos), head)
		batch.Put(ix.entryKey(commit, w.singlePos.Pos), tail)
		batch.Put(ix.listKey(commit), encodeWrapperMulti(newPos.Pos, w.singlePos.Pos))
		return nil
	}

	if newPos.Pos <= w.head {
		return ErrNotMonotonic
	}
	curHead, ok, err := ix.getEntry(commit, w.head)
	if err != nil {
		return err
	}
	if !ok || curHead.variant != entryHead {
		return fmt.Errorf("%w: expected head entry at %d", ErrMissingEntry, w.head)
	}
	newHead := encodeEntryHead(newPos, curHead.pos.Pos)
	middle := encodeEntryMiddle(curHead.pos, curHead.next, newPos.Pos)
	batch.Put(ix.entryKey(commit, newPos.Pos), newHead)
	batch.Put(ix.entryKey(commit, curHead.pos.Pos), middle)
	batch.Put(ix.listKey(commit), encodeWrapperMulti(newPos.Pos, w.tail))
	return nil
}

// Pop removes and returns the head (most recent) position for commit, or
// false if the commitment has no entries.
func (ix *Index) Pop(batch *leveldb.Batch, commit chaintypes.Commitment) (chaintypes.CommitPos, bool, error) {
	w, ok, err := ix.getWrapper(commit)
	if err != nil || !ok {
		return chaintypes.CommitPos{}, false, err
	}

	if w.isSingle {
		batch.Delete(ix.listKey(commit))
		return w.singlePos, true, nil
	}

	curHead, ok, err := ix.getEntry(commit, w.head)
	if err != nil {
		return chaintypes.CommitPos{}, false, err
	}
	if !ok || curHead.variant != entryHead {
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: expected head entry at %d", ErrMissingEntry, w.head)
	}

	next, ok, err := ix.getEntry(commit, curHead.next)
	if err != nil {
		return chaintypes.CommitPos{}, false, err
	}
	if !ok {
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: missing next entry at %d", ErrMissingEntry, curHead.next)
	}

	batch.Delete(ix.entryKey(commit, curHead.pos.Pos))
	switch next.variant {
	case entryMiddle:
		batch.Put(ix.entryKey(commit, next.pos.Pos), encodeEntryHead(next.pos, next.next))
		batch.Put(ix.listKey(commit), encodeWrapperMulti(next.pos.Pos, w.tail))
	case entryTail:
		batch.Put(ix.listKey(commit), encodeWrapperSingle(next.pos))
	default:
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: unexpected next variant after head", ErrUnexpectedVariant)
	}
	return curHead.pos, true, nil
}

// PopBack removes and returns the tail (oldest) position for commit, used
// by horizon compaction to trim list entries that have fallen out of the
// recent-kernel retention window.
func (ix *Index) PopBack(batch *leveldb.Batch, commit chaintypes.Commitment) (chaintypes.CommitPos, bool, error) {
	w, ok, err := ix.getWrapper(commit)
	if err != nil || !ok {
		return chaintypes.CommitPos{}, false, err
	}

	if w.isSingle {
		batch.Delete(ix.listKey(commit))
		return w.singlePos, true, nil
	}

	curTail, ok, err := ix.getEntry(commit, w.tail)
	if err != nil {
		return chaintypes.CommitPos{}, false, err
	}
	if !ok || curTail.variant != entryTail {
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: expected tail entry at %d", ErrMissingEntry, w.tail)
	}

	prev, ok, err := ix.getEntry(commit, curTail.prev)
	if err != nil {
		return chaintypes.CommitPos{}, false, err
	}
	if !ok {
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: missing prev entry at %d", ErrMissingEntry, curTail.prev)
	}

	batch.Delete(ix.entryKey(commit, curTail.pos.Pos))
	switch prev.variant {
	case entryMiddle:
		batch.Put(ix.entryKey(commit, prev.pos.Pos), encodeEntryTail(prev.pos, prev.prev))
		batch.Put(ix.listKey(commit), encodeWrapperMulti(w.head, prev.pos.Pos))
	case entryHead:
		batch.Put(ix.listKey(commit), encodeWrapperSingle(prev.pos))
	default:
		return chaintypes.CommitPos{}, false, fmt.Errorf("%w: unexpected prev variant before tail", ErrUnexpectedVariant)
	}
	return curTail.pos, true, nil
}

// Rewind pops entries off the head of commit's list until the head
// position no longer exceeds cutoffPos, undoing every push made after the
// block being rewound to.
func (ix *Index) Rewind(batch *leveldb.Batch, commit chaintypes.Commitment, cutoffPos uint64) error {
	for {
		head, ok, err := ix.Peek(commit)
		if err != nil {
			return err
		}
		if !ok || head.Pos <= cutoffPos {
			return nil
		}
		if _, _, err := ix.Pop(batch, commit); err != nil {
			return err
		}
	}
}

// Prune trims entries off the tail of commit's list until either the list
// is empty or the tail position exceeds cutoffPos, discarding kernel
// history older than the retention horizon. Implements compaction by
// repeated PopBack rather than a rebuild, per this index's resolution of
// upstream's unimplemented prune().
func (ix *Index) Prune(batch *leveldb.Batch, commit chaintypes.Commitment, cutoffPos uint64) error {
	for {
		w, ok, err := ix.getWrapper(commit)
		if err != nil || !ok {
			return err
		}
		var tailPos uint64
		if w.isSingle {
			tailPos = w.singlePos.Pos
		} else {
			tail, ok, err := ix.getEntry(commit, w.tail)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: expected tail entry at %d", ErrMissingEntry, w.tail)
			}
			tailPos = tail.pos.Pos
		}
		if tailPos > cutoffPos {
			return nil
		}
		if _, _, err := ix.PopBack(batch, commit); err != nil {
			return err
		}
	}
}

// Clear deletes every list and entry record in the index, used when
// rebuilding it from scratch.
func (ix *Index) Clear(batch *leveldb.Batch) error {
	for _, prefix := range [][]byte{{ix.listPrefix}, {ix.entryPrefix}} {
		it := ix.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			key := make([]byte, len(it.Key()))
			copy(key, it.Key())
			batch.Delete(key)
		}
		it.Release()
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}
