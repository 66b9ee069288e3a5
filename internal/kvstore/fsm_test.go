package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSMApplySetThenGet(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Apply(1, EncodeSet("a", []byte("1"))))

	rec, ok := f.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), rec.Value)
	require.Equal(t, uint64(1), rec.Version)
}

func TestFSMApplyUnsetRemovesKey(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Apply(1, EncodeSet("a", []byte("1"))))
	require.NoError(t, f.Apply(2, EncodeUnset("a")))

	_, ok := f.Get("a")
	require.False(t, ok)
}

func TestFSMApplyBumpsVersionOnUpdate(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Apply(1, EncodeSet("a", []byte("1"))))
	first, _ := f.Get("a")
	require.NoError(t, f.Apply(5, EncodeSet("a", []byte("2"))))

	rec, ok := f.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("2"), rec.Value)
	require.Equal(t, uint64(5), rec.Version)
	require.Equal(t, first.CreatedAt, rec.CreatedAt) // creation time preserved across update
}

func TestFSMSnapshotRestoreRoundTrip(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Apply(1, EncodeSet("a", []byte("1"))))
	require.NoError(t, f.Apply(2, EncodeSet("b", []byte("2"))))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	restored := NewFSM()
	require.NoError(t, restored.Restore(snap))

	rec, ok := restored.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), rec.Value)

	require.ElementsMatch(t, []string{"a", "b"}, restored.Keys())
}
