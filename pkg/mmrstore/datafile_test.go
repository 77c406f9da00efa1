package mmrstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataFileFixedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.dat")
	df, err := OpenDataFile(path, 16)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := make([]byte, 16)
		rec[0] = byte(i)
		_, err := df.Append(rec)
		require.NoError(t, err)
	}
	require.NoError(t, df.Flush())

	reopened, err := OpenDataFile(path, 16)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.Len())
	v, err := reopened.Get(1)
	require.NoError(t, err)
	require.Equal(t, byte(1), v[0])
}

func TestDataFileVariableRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proofs.dat")
	df, err := OpenDataFile(path, 0)
	require.NoError(t, err)

	payloads := [][]byte{
		[]byte("short"),
		[]byte("a somewhat longer rangeproof-shaped payload"),
		[]byte("x"),
	}
	for _, p := range payloads {
		_, err := df.Append(p)
		require.NoError(t, err)
	}
	require.NoError(t, df.Flush())

	reopened, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.Len())

	for i, want := range payloads {
		got, err := reopened.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDataFileVariableRewind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proofs.dat")
	df, err := OpenDataFile(path, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := df.Append([]byte{byte(i), byte(i), byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, df.Flush())

	df.Rewind(2)
	require.NoError(t, df.Flush())
	require.Equal(t, uint64(2), df.Len())

	reopened, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), reopened.Len())
}
