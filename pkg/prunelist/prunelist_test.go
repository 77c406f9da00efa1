package prunelist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPruneCollapsesSiblingsIntoParent(t *testing.T) {
	pl, err := Open(filepath.Join(t.TempDir(), "prune.bmp"))
	require.NoError(t, err)

	// Leaves 0 and 1 are siblings under the height-1 node at index 2.
	pl.Add(0)
	require.True(t, pl.IsPrunedRoot(0))
	require.False(t, pl.IsPrunedRoot(2))

	pl.Add(1)
	require.False(t, pl.IsPrunedRoot(0), "collapsed into parent")
	require.False(t, pl.IsPrunedRoot(1))
	require.True(t, pl.IsPrunedRoot(2))

	require.True(t, pl.IsPruned(0))
	require.True(t, pl.IsPruned(1))
	require.True(t, pl.IsPruned(2))
}

func TestPruneIdempotent(t *testing.T) {
	pl, err := Open(filepath.Join(t.TempDir(), "prune.bmp"))
	require.NoError(t, err)

	pl.Add(4)
	before := pl.Cardinality()
	pl.Add(4)
	require.Equal(t, before, pl.Cardinality())

	// Pruning a position already covered by a collapsed root is a no-op.
	pl.Add(3)
	collapsed := pl.Cardinality()
	pl.Add(3)
	require.Equal(t, collapsed, pl.Cardinality())
}

func TestShiftCountsPrunedPositionsBefore(t *testing.T) {
	pl, err := Open(filepath.Join(t.TempDir(), "prune.bmp"))
	require.NoError(t, err)

	pl.Add(0)
	pl.Add(1) // collapses to root at index 2 (height 1, size 3)

	require.Equal(t, uint64(0), pl.Shift(0))
	require.Equal(t, uint64(0), pl.Shift(2))
	require.Equal(t, uint64(2), pl.Shift(3), "root at 2 keeps its own hash record; only its 2 children are elided")
	require.Equal(t, uint64(2), pl.Shift(100))
}

func TestFlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune.bmp")
	pl, err := Open(path)
	require.NoError(t, err)

	pl.Add(0)
	pl.Add(1)
	require.NoError(t, pl.Flush())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.True(t, reopened.IsPrunedRoot(2))
}
