package meshraft

import (
	"net"
	"strconv"

	"github.com/meshraft/meshraft/internal/gossip"
)

// Members returns every member of the given type currently known to
// this node's gossip view.
func (n *Node) Members(t NodeType) []Member {
	return n.gossip.View().ListByType(t)
}

// AliveMembers returns every member currently marked alive.
func (n *Node) AliveMembers() []Member {
	return n.gossip.View().ListAlive()
}

// MembersByStatus returns every member with the given liveness status.
func (n *Node) MembersByStatus(s Status) []Member {
	return n.gossip.View().ListByStatus(s)
}

// Member returns the membership view's copy of id, if known.
func (n *Node) Member(id uint16) (Member, bool) {
	return n.gossip.View().Get(id)
}

// IsMember reports whether id is currently in the membership view.
func (n *Node) IsMember(id uint16) bool {
	_, ok := n.gossip.View().Get(id)
	return ok
}

// GossipStats exposes the SWIM protocol's counters (pings sent, acks
// received, suspicions raised, piggyback truncations, dropped
// pending-ack entries), useful for the metrics layer any embedder
// wires on top.
type GossipStats struct {
	PingsSent        int64
	AcksReceived     int64
	SuspectCount     int64
	TruncatedUpdates int64
	DroppedPending   int64
}

// Stats returns a point-in-time snapshot of the gossip protocol's
// counters.
func (n *Node) Stats() GossipStats {
	s := n.gossip.Stats()
	return GossipStats{
		PingsSent:        s.PingsSent.Get(),
		AcksReceived:     s.AcksReceived.Get(),
		SuspectCount:     s.SuspectCount.Get(),
		TruncatedUpdates: s.TruncatedUpdates.Get(),
		DroppedPending:   s.DroppedPending.Get(),
	}
}

// SetBootstrap replaces the membership digest this node serves to new
// joiners over JOIN_RESPONSE (spec §9's supplemented bootstrap digest).
// Only meaningful on Router nodes.
func (n *Node) SetBootstrap(members []Member) {
	records := make([]gossip.BootstrapRecord, 0, len(members))
	for _, m := range members {
		records = append(records, gossip.BootstrapRecord{
			NodeID:     m.NodeID,
			GossipAddr: net.JoinHostPort(m.IP, strconv.Itoa(int(m.GossipPort))),
			DataAddr:   net.JoinHostPort(m.IP, strconv.Itoa(int(m.DataPort))),
		})
	}
	n.gossip.SetBootstrap(records)
}
