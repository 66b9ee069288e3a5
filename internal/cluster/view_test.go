package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewAddThenUpdateStatus(t *testing.T) {
	v := New(1)
	v.Add(Member{NodeID: 2, Status: Alive, Incarnation: 0})

	ok := v.UpdateStatus(2, Suspect, 0)
	require.True(t, ok)

	m, found := v.Get(2)
	require.True(t, found)
	require.Equal(t, Suspect, m.Status)
}

func TestViewUpdateStatusNeverDemotes(t *testing.T) {
	v := New(1)
	v.Add(Member{NodeID: 2, Status: Dead, Incarnation: 5})

	ok := v.UpdateStatus(2, Alive, 5)
	require.False(t, ok, "equal incarnation must not demote dead -> alive")

	ok = v.UpdateStatus(2, Alive, 6)
	require.True(t, ok, "higher incarnation may revive")
}

func TestViewUpdateStatusRejectsStaleIncarnation(t *testing.T) {
	v := New(1)
	v.Add(Member{NodeID: 2, Status: Alive, Incarnation: 10})

	ok := v.UpdateStatus(2, Dead, 3)
	require.False(t, ok)

	m, _ := v.Get(2)
	require.Equal(t, Alive, m.Status)
	require.Equal(t, uint64(10), m.Incarnation)
}

func TestViewListNonDeadExcludesLocalAndDead(t *testing.T) {
	v := New(1)
	v.Add(Member{NodeID: 1, Status: Alive})
	v.Add(Member{NodeID: 2, Status: Alive})
	v.Add(Member{NodeID: 3, Status: Dead})

	got := v.ListNonDead(true)
	require.Len(t, got, 1)
	require.Equal(t, uint16(2), got[0].NodeID)
}

func TestViewRemove(t *testing.T) {
	v := New(1)
	v.Add(Member{NodeID: 2})
	v.Remove(2)
	_, ok := v.Get(2)
	require.False(t, ok)
}
