package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueuePushAtCapacityIsRejected(t *testing.T) {
	q := NewQueue(2, 4)
	require.NoError(t, q.Push(Update{NodeID: 1}))
	require.NoError(t, q.Push(Update{NodeID: 2}))
	require.ErrorIs(t, q.Push(Update{NodeID: 3}), ErrQueueFull)

	_, ok := q.Pop()
	require.True(t, ok)
	require.NoError(t, q.Push(Update{NodeID: 3}), "pops continue to drain the queue")
}

func TestQueuePeekNExpiresAfterRetransmits(t *testing.T) {
	const limit = 4
	q := NewQueue(10, limit)
	require.NoError(t, q.Push(Update{NodeID: 1}))

	for i := 0; i < limit; i++ {
		got := q.PeekN(1)
		require.Len(t, got, 1)
	}

	require.Equal(t, 0, q.Len(), "update should be evicted after its retransmit budget is spent")
}
