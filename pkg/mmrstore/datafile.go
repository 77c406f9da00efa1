package mmrstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// DataFile is a fixed- or variable-record append-only store of leaf
// payloads (kernels, output identifiers, range proofs), addressed by
// 0-based leaf index. With fixedSize == 0 records are length-prefixed
// (4-byte big-endian length followed by the payload) to support the
// variably-sized range-proof leaves; otherwise every record occupies
// exactly fixedSize bytes.
type DataFile struct {
	*HashFile
	fixedSize int

	// offsets[i] is the on-disk byte offset of flushed record i, valid only
	// in variable-record mode; offsets[len] is the end of the flushed
	// region. Rebuilt on open by a single sequential scan.
	offsets []int64
}

// OpenDataFile opens (or creates) a data file at path. fixedSize == 0
// selects length-prefixed variable records.
func OpenDataFile(path string, fixedSize int) (*DataFile, error) {
	df := &DataFile{fixedSize: fixedSize}

	if fixedSize > 0 {
		hf, err := OpenHashFile(path, fixedSize)
		if err != nil {
			return nil, err
		}
		df.HashFile = hf
		return df, nil
	}

	hf := &HashFile{path: path, recordSize: 1, rewindTo: -1}
	df.HashFile = hf

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			df.offsets = []int64{0}
			return df, nil
		}
		return nil, err
	}

	offsets, count, err := scanVariableRecords(path, info.Size())
	if err != nil {
		return nil, err
	}
	df.offsets = offsets
	df.flushed = count
	return df, nil
}

func scanVariableRecords(path string, size int64) ([]int64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	offsets := []int64{0}
	var pos int64
	var lenBuf [4]byte
	for pos < size {
		if _, err := f.ReadAt(lenBuf[:], pos); err != nil {
			return nil, 0, err
		}
		n := int64(binary.BigEndian.Uint32(lenBuf[:]))
		pos += 4 + n
		if pos > size {
			return nil, 0, fmt.Errorf("%w: %s", ErrCorrupted, path)
		}
		offsets = append(offsets, pos)
	}
	return offsets, int64(len(offsets) - 1), nil
}

// Append buffers a variable- or fixed-size payload and returns its
// 0-based leaf index.
func (df *DataFile) Append(payload []byte) (uint64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.discarded {
		return 0, ErrDiscarded
	}
	if df.fixedSize > 0 && len(payload) != df.fixedSize {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrRecordSizeInvalid, df.fixedSize, len(payload))
	}

	value := append([]byte(nil), payload...)
	df.tail = append(df.tail, value)
	return uint64(df.effectiveBase()) + uint64(len(df.tail)) - 1, nil
}

// Get reads a payload by 0-based leaf index.
func (df *DataFile) Get(index uint64) ([]byte, error) {
	df.mu.RLock()
	defer df.mu.RUnlock()

	base := df.effectiveBase()
	if int64(index) < base {
		if df.fixedSize > 0 {
			return df.readFlushed(index)
		}
		return df.readFlushedVariable(index)
	}
	tailIdx := int64(index) - base
	if tailIdx < 0 || tailIdx >= int64(len(df.tail)) {
		return nil, ErrOutOfRange
	}
	return df.tail[tailIdx], nil
}

func (df *DataFile) readFlushedVariable(index uint64) ([]byte, error) {
	start := df.offsets[index] + 4
	end := df.offsets[index+1]

	f, err := os.Open(df.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return nil, err
	}
	return buf, nil
}

// Rewind discards every record with index >= pos, deferring any already
// flushed truncation to the next Flush, exactly as [HashFile.Rewind].
func (df *DataFile) Rewind(pos uint64) {
	df.HashFile.Rewind(pos)
}

// Flush makes buffered records durable; for variable-record files it also
// rebuilds the in-memory offset index for the (possibly truncated, now
// extended) flushed region.
func (df *DataFile) Flush() error {
	if df.fixedSize > 0 {
		return df.HashFile.Flush()
	}

	df.mu.Lock()
	if df.rewindTo < 0 && len(df.tail) == 0 {
		df.mu.Unlock()
		return nil
	}

	keepRecords := df.flushed
	if df.rewindTo >= 0 {
		keepRecords = df.rewindTo
	}
	keepBytes := df.offsets[keepRecords]

	dir := filepath.Dir(df.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(df.path)+".tmp-*")
	if err != nil {
		df.mu.Unlock()
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if keepBytes > 0 {
		if err := copyRecords(tmp, df.path, keepBytes); err != nil {
			tmp.Close()
			df.mu.Unlock()
			return err
		}
	}

	newOffsets := append([]int64(nil), df.offsets[:keepRecords+1]...)
	pos := keepBytes
	for _, rec := range df.tail {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		if _, err := tmp.Write(lenBuf[:]); err != nil {
			tmp.Close()
			df.mu.Unlock()
			return err
		}
		if _, err := tmp.Write(rec); err != nil {
			tmp.Close()
			df.mu.Unlock()
			return err
		}
		pos += 4 + int64(len(rec))
		newOffsets = append(newOffsets, pos)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		df.mu.Unlock()
		return err
	}
	if err := tmp.Close(); err != nil {
		df.mu.Unlock()
		return err
	}
	if err := os.Rename(tmpPath, df.path); err != nil {
		df.mu.Unlock()
		return err
	}
	if err := fsyncDir(dir); err != nil {
		df.mu.Unlock()
		return err
	}

	df.offsets = newOffsets
	df.flushed = keepRecords + int64(len(df.tail))
	df.tail = nil
	df.rewindTo = -1
	df.mu.Unlock()
	return nil
}
