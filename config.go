package meshraft

import (
	"os"
	"time"

	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/meshraft/meshraft/internal/gossip"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/raftengine"
)

// Logger is an active logging object that generates lines of output to
// an io.Writer, exactly the teacher's root-level alias.
type Logger = log.Logger

func defaultStateDir() string {
	return os.TempDir()
}

// Option configures a Node using the functional options paradigm
// popularized by Rob Pike and Dave Cheney.
// If you're unfamiliar with this style, see
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
// and https://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis.
type Option interface {
	apply(c *config)
}

// optionFunc implements Option.
type optionFunc func(c *config)

func (fn optionFunc) apply(c *config) { fn(c) }

// WithLogger sets the logger used to generate lines of output.
func WithLogger(lg Logger) Option {
	return optionFunc(func(c *config) {
		log.SetLogger(lg)
	})
}

// WithGossipObserver registers the capability interface driven on
// membership changes (spec §9's callback-to-interface redesign).
func WithGossipObserver(obs GossipObserver) Option {
	return optionFunc(func(c *config) {
		c.gossipHandler = obs
	})
}

// WithBindAddr sets the host:port this node's gossip UDP socket binds
// to. Default: "0.0.0.0:7946".
func WithBindAddr(addr string) Option {
	return optionFunc(func(c *config) {
		c.bindAddr = addr
	})
}

// WithRPCAddr sets the host:port this node's RPC/Raft TCP listener
// binds to. Default: "0.0.0.0:7950".
func WithRPCAddr(addr string) Option {
	return optionFunc(func(c *config) {
		c.rpcAddr = addr
	})
}

// WithNodeType marks this node a Router or a Worker in the membership
// it gossips; only a Router answers a JOIN with a bootstrap digest.
// The type does not change what Start runs: every node, Worker
// included, starts the RPC server and the Raft engine. Default: Router.
func WithNodeType(t NodeType) Option {
	return optionFunc(func(c *config) {
		c.nodeType = t
	})
}

// WithProtocolPeriod is the SWIM round interval. Default: 1s.
func WithProtocolPeriod(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.gossipCfg.ProtocolPeriod = d.Milliseconds()
	})
}

// WithAckTimeout bounds how long a PING waits for an ACK before the
// target is suspected. Default: 500ms.
func WithAckTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.gossipCfg.AckTimeout = d.Milliseconds()
	})
}

// WithDeadTimeout bounds how long a member stays suspect before being
// declared dead. Default: 5s.
func WithDeadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.gossipCfg.DeadTimeout = d.Milliseconds()
	})
}

// WithFanout sets how many outbound gossip messages each queued
// membership update is piggybacked on before it is dropped. Each round
// still pings a single peer. Default: 3.
func WithFanout(n int) Option {
	return optionFunc(func(c *config) {
		c.gossipCfg.Fanout = n
	})
}

// WithElectionTimeout bounds the randomized Raft election timer.
// Default: 150-300ms.
func WithElectionTimeout(min, max time.Duration) Option {
	return optionFunc(func(c *config) {
		c.raftCfg.ElectionTimeoutMin = min
		c.raftCfg.ElectionTimeoutMax = max
	})
}

// WithHeartbeatInterval sets the leader's AppendEntries replication
// interval. Default: 50ms.
func WithHeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.raftCfg.HeartbeatInterval = d
	})
}

// WithStateDir is the directory used to durably persist Raft state
// (current term, voted for, log) between restarts. Default:
// os.TempDir().
func WithStateDir(dir string) Option {
	return optionFunc(func(c *config) {
		c.stateDir = dir
	})
}

// WithCommitTimeout bounds how long SubmitCommand's caller waits for
// an entry to commit via wait_committed. Default: 2s.
func WithCommitTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.commitTimeout = d
	})
}

// StartOption configures how a Node joins (or forms) a cluster at
// Start time, mirroring the teacher's separate StartOption surface.
type StartOption interface {
	apply(c *startConfig)
}

type startOptionFunc func(c *startConfig)

func (fn startOptionFunc) apply(c *startConfig) { fn(c) }

// WithSeed joins an existing cluster by sending a JOIN to addr (spec
// §4.2's add_seed).
func WithSeed(addr string) StartOption {
	return startOptionFunc(func(c *startConfig) {
		c.seeds = append(c.seeds, addr)
	})
}

// WithRaftPeers registers the initial set of reachable Raft peers
// (spec §4.5's add_peer), applied once Start has brought up the RPC
// server.
func WithRaftPeers(peers ...raftengine.Peer) StartOption {
	return startOptionFunc(func(c *startConfig) {
		c.peers = append(c.peers, peers...)
	})
}

type startConfig struct {
	seeds []string
	peers []raftengine.Peer
}

func (c *startConfig) apply(opts ...StartOption) {
	for _, opt := range opts {
		opt.apply(c)
	}
}

type config struct {
	self          uint16
	nodeType      NodeType
	bindAddr      string
	rpcAddr       string
	dataPort      uint16
	stateDir      string
	commitTimeout time.Duration
	gossipHandler GossipObserver
	gossipCfg     gossip.Config
	raftCfg       raftengine.Config
}

func newConfig(self uint16, opts ...Option) *config {
	c := &config{
		self:          self,
		nodeType:      cluster.Router,
		bindAddr:      "0.0.0.0:7946",
		rpcAddr:       "0.0.0.0:7950",
		stateDir:      defaultStateDir(),
		commitTimeout: 2 * time.Second,
		gossipCfg:     gossip.DefaultConfig(),
		raftCfg:       raftengine.DefaultConfig(),
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	return c
}
