package raftengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogAppendAssignsSequentialIndices(t *testing.T) {
	l := newLog()
	e1 := l.append(1, EntryNormal, []byte("a"))
	e2 := l.append(1, EntryNormal, []byte("b"))

	require.Equal(t, uint64(1), e1.Index)
	require.Equal(t, uint64(2), e2.Index)
	require.Equal(t, uint64(2), l.lastIndex())
}

func TestLogTruncateFromDiscardsConflictingSuffix(t *testing.T) {
	l := newLog()
	l.append(1, EntryNormal, nil)
	l.append(1, EntryNormal, nil)
	l.append(2, EntryNormal, nil)

	l.truncateFrom(2)

	require.Equal(t, uint64(1), l.lastIndex())
}

func TestLogRestorePreservesSentinel(t *testing.T) {
	l := newLog()
	l.restore([]Entry{{Index: 0}, {Index: 1, Term: 3}})

	require.Equal(t, uint64(1), l.lastIndex())
	require.Equal(t, uint64(3), l.termAt(1))
}

func TestLogSliceBounds(t *testing.T) {
	l := newLog()
	l.append(1, EntryNormal, nil)
	l.append(1, EntryNormal, nil)
	l.append(1, EntryNormal, nil)

	got := l.slice(2, 0)
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Index)
}
