package raftengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	state := PersistentState{
		CurrentTerm: 4,
		VotedFor:    2,
		Log: []Entry{
			{},
			{Term: 1, Index: 1, Type: EntryNormal, Data: []byte("x")},
		},
	}
	require.NoError(t, store.Save(state))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, state, got)
}

func TestStoreLoadMissingFileReturnsFreshState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.CurrentTerm)
	require.Len(t, got.Log, 1)
}
