package meshraft

import (
	"context"

	"github.com/meshraft/meshraft/internal/kvstore"
)

// Record is one stored key's value plus its versioning metadata;
// Version is the Raft log index at which it was last written.
type Record = kvstore.Record

// WriteStatus is the outcome of a Set/Unset call.
type WriteStatus = kvstore.Status

const (
	StatusOK        = kvstore.StatusOK
	StatusNotLeader = kvstore.StatusNotLeader
	StatusTimeout   = kvstore.StatusTimeout
)

// Set writes key=value through Raft (spec §4.6's write path): the
// command is submitted to the log and this call blocks until it
// commits or ctx/commit-timeout expires.
func (n *Node) Set(ctx context.Context, key string, value []byte) (WriteStatus, error) {
	return n.kv.Set(ctx, key, value)
}

// Unset removes key through Raft.
func (n *Node) Unset(ctx context.Context, key string) (WriteStatus, error) {
	return n.kv.Unset(ctx, key)
}

// Get reads key from local state. Only the current leader answers;
// followers return StatusNotLeader (spec §4.6's read path).
func (n *Node) Get(key string) (Record, WriteStatus) {
	return n.kv.Get(key)
}

// Keys lists every stored key from local state. Eventually consistent,
// served without a leader check (spec §4.6).
func (n *Node) Keys() []string {
	return n.kv.Keys()
}
