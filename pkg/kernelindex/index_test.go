package kernelindex

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/mimblenode/node/pkg/chaintypes"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir(), 'L', 'E')
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func commit(b byte) chaintypes.Commitment {
	var c chaintypes.Commitment
	c[0] = b
	return c
}

func pushAll(t *testing.T, ix *Index, c chaintypes.Commitment, positions ...uint64) {
	t.Helper()
	for _, p := range positions {
		batch := new(leveldb.Batch)
		require.NoError(t, ix.Push(batch, c, chaintypes.CommitPos{Pos: p, Height: p}))
		require.NoError(t, ix.Commit(batch))
	}
}

func TestPushPeekPopSingleEntry(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(1)

	_, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.False(t, ok)

	pushAll(t, ix, c, 10)

	pos, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), pos.Pos)

	batch := new(leveldb.Batch)
	popped, ok, err := ix.Pop(batch, c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), popped.Pos)
	require.NoError(t, ix.Commit(batch))

	_, ok, err = ix.Peek(c)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPushOrderAndPeekReturnsMostRecent(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(2)

	pushAll(t, ix, c, 5, 10, 20, 30)

	pos, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(30), pos.Pos)
}

func TestPushRejectsNonMonotonicPos(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(3)

	pushAll(t, ix, c, 10)

	batch := new(leveldb.Batch)
	err := ix.Push(batch, c, chaintypes.CommitPos{Pos: 5})
	require.ErrorIs(t, err, ErrNotMonotonic)

	err = ix.Push(batch, c, chaintypes.CommitPos{Pos: 10})
	require.ErrorIs(t, err, ErrNotMonotonic)
}

func TestPopReturnsMaximumThenNextMaximum(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(4)
	pushAll(t, ix, c, 1, 2, 3, 4, 5)

	var got []uint64
	for {
		batch := new(leveldb.Batch)
		pos, ok, err := ix.Pop(batch, c)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, ix.Commit(batch))
		got = append(got, pos.Pos)
	}
	require.Equal(t, []uint64{5, 4, 3, 2, 1}, got)
}

func TestPopBackReturnsMinimum(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(5)
	pushAll(t, ix, c, 1, 2, 3, 4, 5)

	var got []uint64
	for {
		batch := new(leveldb.Batch)
		pos, ok, err := ix.PopBack(batch, c)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, ix.Commit(batch))
		got = append(got, pos.Pos)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
}

func TestRewindRestoresPriorHead(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(6)
	pushAll(t, ix, c, 10, 20, 30, 40)

	batch := new(leveldb.Batch)
	require.NoError(t, ix.Rewind(batch, c, 25))
	require.NoError(t, ix.Commit(batch))

	pos, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), pos.Pos)
}

func TestRewindBelowEverythingEmptiesList(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(7)
	pushAll(t, ix, c, 10, 20, 30)

	batch := new(leveldb.Batch)
	require.NoError(t, ix.Rewind(batch, c, 0))
	require.NoError(t, ix.Commit(batch))

	_, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPruneTrimsOldestEntriesOnly(t *testing.T) {
	ix := openTestIndex(t)
	c := commit(8)
	pushAll(t, ix, c, 10, 20, 30, 40)

	batch := new(leveldb.Batch)
	require.NoError(t, ix.Prune(batch, c, 15))
	require.NoError(t, ix.Commit(batch))

	pos, ok, err := ix.Peek(c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), pos.Pos, "prune only trims the tail, head is untouched")
}

func TestClearRemovesEveryRecord(t *testing.T) {
	ix := openTestIndex(t)
	a, b := commit(9), commit(10)
	pushAll(t, ix, a, 1, 2, 3)
	pushAll(t, ix, b, 1)

	batch := new(leveldb.Batch)
	require.NoError(t, ix.Clear(batch))
	require.NoError(t, ix.Commit(batch))

	_, ok, err := ix.Peek(a)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = ix.Peek(b)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDistinctCommitmentsDoNotInterfere(t *testing.T) {
	ix := openTestIndex(t)
	a, b := commit(11), commit(12)
	pushAll(t, ix, a, 100)
	pushAll(t, ix, b, 1, 2)

	posA, ok, err := ix.Peek(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), posA.Pos)

	posB, ok, err := ix.Peek(b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), posB.Pos)
}
