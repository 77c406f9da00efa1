package segment

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/mmrmath"
	"github.com/mimblenode/node/pkg/pmmr"
)

func leafHash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func buildBackend(t *testing.T, n int) *pmmr.Backend {
	t.Helper()
	dir := t.TempDir()
	backend, err := pmmr.Open(pmmr.Config{Dir: dir, DataFixedSize: 8})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		payload := make([]byte, 8)
		payload[0] = byte(i)
		payload[1] = byte(i >> 8)
		_, _, err := backend.Append(leafHash(payload), payload)
		require.NoError(t, err)
	}
	require.NoError(t, backend.Commit())
	return backend
}

func TestExtractAndValidateUnprunedSegment(t *testing.T) {
	n := 79
	backend := buildBackend(t, n)
	fullSize := backend.Size()

	root, err := backend.Root()
	require.NoError(t, err)

	id := Identifier{Height: 3, Idx: 1}
	seg, err := FromBackend(id, backend, fullSize)
	require.NoError(t, err)
	require.Len(t, seg.Leaves, 8)

	require.NoError(t, seg.Validate(fullSize, nil, root))
}

func TestTamperedHashFailsValidation(t *testing.T) {
	n := 79
	backend := buildBackend(t, n)
	fullSize := backend.Size()

	root, err := backend.Root()
	require.NoError(t, err)

	id := Identifier{Height: 3, Idx: 1}
	seg, err := FromBackend(id, backend, fullSize)
	require.NoError(t, err)

	seg.Leaves[0].Payload[0] ^= 0xFF
	require.ErrorIs(t, seg.Validate(fullSize, nil, root), ErrRootMismatch)
}

func TestSegmentOverPrunedSubtreeCollapsesToSingleHash(t *testing.T) {
	n := 16
	backend := buildBackend(t, n)
	fullSize := backend.Size()
	root, err := backend.Root()
	require.NoError(t, err)

	// Spend every leaf of segment (height=2, idx=1) -- leaves 4..7 -- then
	// compact, which moves their covering subtree root into the prune list.
	for _, leafIdx := range []uint64{4, 5, 6, 7} {
		pos := mmrmath.MMRIndex(leafIdx)
		backend.Remove(pos)
	}
	backend.Compact(fullSize - 1)

	id := Identifier{Height: 2, Idx: 1}
	seg, err := FromBackend(id, backend, fullSize)
	require.NoError(t, err)
	require.Empty(t, seg.Leaves)
	require.Len(t, seg.Hashes, 1)

	require.NoError(t, seg.Validate(fullSize, nil, root))
}
