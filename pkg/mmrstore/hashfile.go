package mmrstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// HashFile is a fixed-record, append-only store of MMR node hashes,
// addressed by 0-based record index. Appends are buffered in memory until
// [HashFile.Flush] makes them durable; [HashFile.Rewind] can discard
// buffered (and previously flushed) records before the next flush.
//
// Flush is atomic: the new content is written to a sibling temp file,
// fsynced, and renamed over the original, with the parent directory
// fsynced afterwards. A crash at any point leaves either the old file or
// the new one, never a partially-written one.
type HashFile struct {
	mu sync.RWMutex

	path       string
	recordSize int

	flushed    int64 // durable record count
	tail       [][]byte
	rewindTo   int64 // -1 if no rewind pending against the flushed region
	discarded  bool
}

// OpenHashFile opens (or creates) a fixed-record hash file at path.
func OpenHashFile(path string, recordSize int) (*HashFile, error) {
	if recordSize <= 0 {
		return nil, ErrRecordSizeInvalid
	}

	hf := &HashFile{path: path, recordSize: recordSize, rewindTo: -1}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hf, nil
		}
		return nil, err
	}
	if info.Size()%int64(recordSize) != 0 {
		return nil, fmt.Errorf("%w: %s (size %d, record %d)", ErrCorrupted, path, info.Size(), recordSize)
	}
	hf.flushed = info.Size() / int64(recordSize)
	return hf, nil
}

// effectiveBase returns the record count the next Append/Get should treat
// the flushed region as having: the pending rewind target if Rewind staged
// one, otherwise the actually-flushed count. Needed because a rewind and
// the block replacing it are staged together and only hit disk on the next
// Flush (e.g. a fork switch rewinds, then immediately appends the new
// fork's leaves, before committing the whole batch).
func (hf *HashFile) effectiveBase() int64 {
	if hf.rewindTo >= 0 {
		return hf.rewindTo
	}
	return hf.flushed
}

// Len returns the total number of records, flushed plus buffered.
func (hf *HashFile) Len() uint64 {
	hf.mu.RLock()
	defer hf.mu.RUnlock()
	return uint64(hf.effectiveBase()) + uint64(len(hf.tail))
}

// Append buffers record and returns its 0-based index. Not durable until
// [HashFile.Flush].
func (hf *HashFile) Append(record []byte) (uint64, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.discarded {
		return 0, ErrDiscarded
	}
	value := append([]byte(nil), record...)
	hf.tail = append(hf.tail, value)
	return uint64(hf.effectiveBase()) + uint64(len(hf.tail)) - 1, nil
}

// Get reads a record. Buffered records are served from memory; flushed
// ones are read from disk.
func (hf *HashFile) Get(index uint64) ([]byte, error) {
	hf.mu.RLock()
	defer hf.mu.RUnlock()

	base := hf.effectiveBase()
	if int64(index) < base {
		return hf.readFlushed(index)
	}
	tailIdx := int64(index) - base
	if tailIdx < 0 || tailIdx >= int64(len(hf.tail)) {
		return nil, ErrOutOfRange
	}
	return hf.tail[tailIdx], nil
}

func (hf *HashFile) readFlushed(index uint64) ([]byte, error) {
	f, err := os.Open(hf.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, hf.recordSize)
	_, err = f.ReadAt(buf, int64(index)*int64(hf.recordSize))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Rewind discards every record with index >= pos. Buffered records past
// pos are dropped immediately; if pos also falls inside the already
// flushed region, the truncation is deferred and applied atomically by
// the next [HashFile.Flush].
func (hf *HashFile) Rewind(pos uint64) {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if int64(pos) >= hf.effectiveBase() {
		keep := int64(pos) - hf.effectiveBase()
		if keep < 0 {
			keep = 0
		}
		if keep < int64(len(hf.tail)) {
			hf.tail = hf.tail[:keep]
		}
		return
	}

	hf.tail = nil
	hf.rewindTo = int64(pos)
}

// Discard drops all buffered, not-yet-flushed records, abandoning the
// current write batch.
func (hf *HashFile) Discard() {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	hf.tail = nil
	hf.rewindTo = -1
}

// Flush makes buffered appends (and any pending rewind) durable. On
// failure the file is left exactly as it was before the call; the caller
// must treat the whole batch as aborted.
func (hf *HashFile) Flush() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if hf.rewindTo < 0 && len(hf.tail) == 0 {
		return nil
	}

	keepRecords := hf.flushed
	if hf.rewindTo >= 0 {
		keepRecords = hf.rewindTo
	}

	dir := filepath.Dir(hf.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(hf.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if keepRecords > 0 {
		if err := copyRecords(tmp, hf.path, keepRecords*int64(hf.recordSize)); err != nil {
			tmp.Close()
			return err
		}
	}
	for _, rec := range hf.tail {
		if _, err := tmp.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, hf.path); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}

	hf.flushed = keepRecords + int64(len(hf.tail))
	hf.tail = nil
	hf.rewindTo = -1
	return nil
}

func copyRecords(dst *os.File, srcPath string, n int64) error {
	if n == 0 {
		return nil
	}
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	buf := make([]byte, 1<<20)
	remaining := n
	for remaining > 0 {
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		nRead, err := src.Read(buf[:chunk])
		if nRead > 0 {
			if _, werr := dst.Write(buf[:nRead]); werr != nil {
				return werr
			}
			remaining -= int64(nRead)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
