package pmmr

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/chaintypes"
)

func leafHash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func TestAppendRootAndProof(t *testing.T) {
	backend, err := Open(Config{Dir: t.TempDir(), DataFixedSize: 8})
	require.NoError(t, err)

	var positions []uint64
	for i := 0; i < 7; i++ {
		payload := make([]byte, 8)
		payload[0] = byte(i)
		pos, _, err := backend.Append(leafHash(payload), payload)
		require.NoError(t, err)
		positions = append(positions, pos)
	}

	root, err := backend.Root()
	require.NoError(t, err)
	require.Len(t, root, 32)

	for _, pos := range positions {
		proof, err := backend.InclusionProof(pos)
		require.NoError(t, err)
		require.NotNil(t, proof)
		h, err := backend.GetHash(pos)
		require.NoError(t, err)
		require.Len(t, h, 32)
	}
}

func TestSpendAndUnspent(t *testing.T) {
	backend, err := Open(Config{Dir: t.TempDir(), DataFixedSize: 8})
	require.NoError(t, err)

	pos, _, err := backend.Append(leafHash([]byte("a")), make([]byte, 8))
	require.NoError(t, err)
	require.True(t, backend.Unspent(pos))

	backend.Remove(pos)
	require.False(t, backend.Unspent(pos))
}

func TestCommitAndReopen(t *testing.T) {
	dir := t.TempDir()
	backend, err := Open(Config{Dir: dir, DataFixedSize: 8})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		payload := make([]byte, 8)
		payload[0] = byte(i)
		_, _, err := backend.Append(leafHash(payload), payload)
		require.NoError(t, err)
	}
	require.NoError(t, backend.Commit())

	reopened, err := Open(Config{Dir: dir, DataFixedSize: 8})
	require.NoError(t, err)
	require.Equal(t, backend.Size(), reopened.Size())
}

func TestSnapshotThenRewindRestoresUnspent(t *testing.T) {
	backend, err := Open(Config{Dir: t.TempDir(), DataFixedSize: 8})
	require.NoError(t, err)

	pos0, _, err := backend.Append(leafHash([]byte{0}), make([]byte, 8))
	require.NoError(t, err)
	var blockHash chaintypes.Hash
	blockHash[0] = 1
	require.NoError(t, backend.Snapshot(blockHash))

	sizeAfterBlock1 := backend.Size()

	_, _, err = backend.Append(leafHash([]byte{1}), make([]byte, 8))
	require.NoError(t, err)
	backend.Remove(pos0)
	require.False(t, backend.Unspent(pos0))

	backend.Rewind(sizeAfterBlock1-1, 1, nil)
	ok, err := backend.LoadSnapshot(blockHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, backend.Unspent(pos0))
}
