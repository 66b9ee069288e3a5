// Package gossip implements the SWIM failure detector: a pure state
// machine (swim.go), its fixed-width big-endian wire codec (codec.go),
// and the engine that glues it to the datagram transport and the
// cluster view (engine.go).
package gossip

import "github.com/meshraft/meshraft/internal/cluster"

// MsgType is the gossip message discriminant (spec §3/§6).
type MsgType uint8

const (
	Ping MsgType = iota + 1
	Ack
	Suspect
	Alive
	Dead
	Join
	Leave
	WorkerJoin
	// JoinResponse carries a bootstrap digest back to a joiner, resolving
	// spec §9's open question in favor of an explicit response (see
	// DESIGN.md).
	JoinResponse
)

// Version is the only gossip wire version this codec understands.
const Version uint8 = 1

// MaxPiggyback is the hard ceiling on updates carried by one message
// (spec §3).
const MaxPiggyback = 10

// Peer is a gossip destination address.
type Peer struct {
	IP   string
	Port uint16
}

// BootstrapRecord is one entry of the JOIN_RESPONSE digest (spec §6
// "Bootstrap response"): a router's id and its two addresses.
type BootstrapRecord struct {
	NodeID     uint16
	GossipAddr string
	DataAddr   string
}

// Message is the decoded form of a gossip datagram payload.
type Message struct {
	Version   uint8
	Type      MsgType
	Flags     uint16
	SenderID  uint16
	Sequence  uint64
	Updates   []cluster.Update
	Bootstrap []BootstrapRecord // only populated for JoinResponse
	Truncated int               // updates dropped by Decode due to truncation
}
