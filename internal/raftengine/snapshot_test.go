package raftengine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := SnapshotMeta{LastIncludedIndex: 42, LastIncludedTerm: 3}
	data := []byte("fsm-state-bytes")

	path, err := WriteSnapshot(dir, meta, data)
	require.NoError(t, err)

	gotMeta, gotData, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, meta, gotMeta)
	require.Equal(t, data, gotData)
}

func TestReadSnapshotDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSnapshot(dir, SnapshotMeta{LastIncludedIndex: 1, LastIncludedTerm: 1}, []byte("abc"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = ReadSnapshot(path)
	require.ErrorIs(t, err, ErrSnapshotCRCMismatch)
}
