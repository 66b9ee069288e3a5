package meshraft

import (
	"github.com/meshraft/meshraft/internal/cluster"
)

// NodeType classifies a member's role as gossiped: Router or Worker.
// Only a Router answers a JOIN with a bootstrap digest; a started Node
// runs the Raft engine whichever type it has.
type NodeType = cluster.NodeType

const (
	Router = cluster.Router
	Worker = cluster.Worker
)

// Status is the tri-state SWIM liveness classification.
type Status = cluster.Status

const (
	Alive   = cluster.Alive
	Suspect = cluster.Suspect
	Dead    = cluster.Dead
)

// Member is one entry of the membership view: identity, contact info,
// and its current liveness record.
type Member = cluster.Member

// GossipObserver is the capability interface the gossip engine drives
// on membership transitions (spec §9's redesign of the raw
// `{on_alive, on_suspect, on_dead, on_send}` callback pair into a typed
// interface). Send is intentionally not exposed here: that leg of the
// capability set is internal transport plumbing, not an
// application-level event.
type GossipObserver interface {
	OnAlive(m Member)
	OnSuspect(m Member)
	OnDead(m Member)
}
