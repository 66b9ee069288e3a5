package meshraft

import (
	"github.com/meshraft/meshraft/internal/raftengine"
)

// Peer identifies one reachable Raft participant by node id and its
// RPC address.
type Peer = raftengine.Peer

// ErrNotLeader is returned by write paths when this node does not
// believe itself to be the leader.
var ErrNotLeader = raftengine.ErrNotLeader

// AddPeer submits a membership change adding p and blocks until it
// commits (spec §4.5's add_peer). The initial peer set configured at
// Start is wired directly rather than through this path: see
// raftengine.Engine.Bootstrap.
func (n *Node) AddPeer(p Peer) error {
	return n.raft.AddPeer(p)
}

// RemovePeer submits a membership change dropping id and blocks until
// it commits (spec §4.5's remove_peer).
func (n *Node) RemovePeer(id uint16) error {
	return n.raft.RemovePeer(id)
}

// IsLeader reports whether this node currently believes itself leader.
func (n *Node) IsLeader() bool {
	return n.raft.IsLeader()
}

// Term returns the current Raft term.
func (n *Node) Term() uint64 {
	return n.raft.GetTerm()
}

// RaftLeader returns the last known Raft leader id, or cluster.None if
// unknown. Named distinctly from the gossip-level notion of a "leader"
// (there is none in SWIM) to avoid ambiguity at the public API.
func (n *Node) RaftLeader() uint16 {
	return n.raft.GetLeader()
}

// CommitIndex returns the current commit index.
func (n *Node) CommitIndex() uint64 {
	return n.raft.GetCommitIndex()
}

// LastApplied returns the last applied log index.
func (n *Node) LastApplied() uint64 {
	return n.raft.GetLastApplied()
}
