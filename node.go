package meshraft

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/meshraft/meshraft/internal/gossip"
	"github.com/meshraft/meshraft/internal/kvstore"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/raftengine"
	"github.com/meshraft/meshraft/internal/rpc"
)

// ErrAlreadyStarted is returned by Start when called on a running Node.
var ErrAlreadyStarted = errors.New("meshraft: node already started")

// Node is one participant in a meshraft cluster: it runs the SWIM
// gossip engine for membership/failure-detection, the Raft engine and
// its RPC substrate for consensus, and the KV store layered on top
// (spec §2's four core subsystems, wired together).
type Node struct {
	cfg *config

	gossip *gossip.Engine
	regist *rpc.Registry
	server *rpc.Server
	raft   *raftengine.Engine
	fsm    *kvstore.FSM
	kv     *kvstore.Store

	started bool
}

// gossipAdapter bridges the public GossipObserver capability interface
// to the internal engine's EventHandler shape.
type gossipAdapter struct {
	obs GossipObserver
}

func (a gossipAdapter) MemberAlive(m cluster.Member)   { a.obs.OnAlive(m) }
func (a gossipAdapter) MemberSuspect(m cluster.Member) { a.obs.OnSuspect(m) }
func (a gossipAdapter) MemberDead(m cluster.Member)    { a.obs.OnDead(m) }

// New builds an unstarted Node identified by self. self must be unique
// across the cluster; it doubles as the gossip NodeID and the Raft
// member id.
func New(self uint16, opts ...Option) *Node {
	if self == cluster.None {
		panic("meshraft: cannot create node with id 0 (reserved for None)")
	}

	cfg := newConfig(self, opts...)

	_, portStr, err := net.SplitHostPort(cfg.rpcAddr)
	if err == nil {
		if p, err := strconv.ParseUint(portStr, 10, 16); err == nil {
			cfg.dataPort = uint16(p)
		}
	}

	handler := gossip.EventHandler(gossip.NopEventHandler{})
	if cfg.gossipHandler != nil {
		handler = gossipAdapter{obs: cfg.gossipHandler}
	}

	gcfg := gossip.EngineConfig{
		Self:     self,
		NodeType: cfg.nodeType,
		BindAddr: cfg.bindAddr,
		DataPort: cfg.dataPort,
		Protocol: cfg.gossipCfg,
		Handler:  handler,
	}

	n := &Node{
		cfg:    cfg,
		gossip: gossip.New(gcfg),
		regist: rpc.NewRegistry(),
		fsm:    kvstore.NewFSM(),
	}

	return n
}

// Start brings the node up: binds the gossip and RPC listeners,
// constructs the Raft engine against the configured state directory,
// joins any configured seeds, and registers any configured Raft peers
// (spec §4.2's add_seed / §4.5's add_peer, both driven from Start so a
// restart can replay the same topology).
func (n *Node) Start(opts ...StartOption) error {
	if n.started {
		return ErrAlreadyStarted
	}

	sc := new(startConfig)
	sc.apply(opts...)

	raftNode, err := raftengine.New(n.cfg.self, n.cfg.raftCfg, n.cfg.stateDir, n.fsm, n.regist)
	if err != nil {
		return fmt.Errorf("meshraft: starting raft engine: %w", err)
	}
	n.raft = raftNode
	n.kv = kvstore.New(n.raft, n.fsm, n.cfg.commitTimeout)

	server, err := rpc.NewServer(n.cfg.rpcAddr, n.cfg.self, n.regist)
	if err != nil {
		return fmt.Errorf("meshraft: binding rpc listener %s: %w", n.cfg.rpcAddr, err)
	}
	n.server = server
	go n.server.Serve()

	if err := n.gossip.Start(gossipHost(n.cfg.bindAddr), gossipPort(n.cfg.bindAddr)); err != nil {
		n.server.Close()
		return fmt.Errorf("meshraft: starting gossip engine: %w", err)
	}

	n.raft.Start()
	n.raft.Bootstrap(sc.peers)

	for _, seed := range sc.seeds {
		if err := n.gossip.Join(seed); err != nil {
			log.Warnf("meshraft: joining seed %s: %v", seed, err)
		}
	}

	n.started = true
	return nil
}

// Close stops every subsystem and releases its resources: gossip
// announces a graceful leave, the Raft engine persists its final
// state, and the RPC listener is closed.
func (n *Node) Close() error {
	if !n.started {
		return nil
	}
	n.started = false

	var errs []error
	if err := n.gossip.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.raft.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.server.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("meshraft: close: %v", errs)
	}
	return nil
}

// Whoami returns this node's own id.
func (n *Node) Whoami() uint16 {
	return n.cfg.self
}

func gossipHost(bindAddr string) string {
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "0.0.0.0"
	}
	return host
}

func gossipPort(bindAddr string) uint16 {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return 0
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}
