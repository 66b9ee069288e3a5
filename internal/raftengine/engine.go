package raftengine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/clock"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/msgbus"
	"github.com/meshraft/meshraft/internal/rpc"
)

var (
	// ErrNotLeader is returned by SubmitCommand when this node does not
	// believe itself to be the leader (spec §4.5's client API).
	ErrNotLeader = errors.New("raftengine: not leader")
	// ErrStopped is returned once the engine has been closed.
	ErrStopped = errors.New("raftengine: engine stopped")
)

// peerConn bundles a peer's identity and its RPC client.
type peerConn struct {
	peer   Peer
	client *rpc.Client
}

// Engine runs the three Raft workers (election timer, heartbeat/
// replication, apply) against a log and an FSM, exposing the client
// API spec §4.5 names.
type Engine struct {
	self  uint16
	cfg   Config
	store *Store
	fsm   FSM
	rlog  *raftLog

	registry *rpc.Registry
	bus      *msgbus.MsgBus

	mu               sync.Mutex // guards term/votedFor/role/leader/electionDeadline
	currentTerm      uint64
	votedFor         uint16
	role             Role
	leader           uint16
	electionDeadline int64 // clock.NowMS()

	leaderMu sync.Mutex // guards progress, held only by the leader
	progress map[uint16]*PeerProgress

	peersMu sync.RWMutex
	peers   map[uint16]*peerConn

	commitIndex *atomicx.Uint64
	lastApplied *atomicx.Uint64

	started *atomicx.Bool
	stopc   chan struct{}
	wg      sync.WaitGroup
}

// New builds an unstarted Engine. dir is the local persistence
// directory; fsm is the application state machine driven by apply.
func New(self uint16, cfg Config, dir string, fsm FSM, registry *rpc.Registry) (*Engine, error) {
	store, err := NewStore(dir)
	if err != nil {
		return nil, err
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		self:        self,
		cfg:         cfg,
		store:       store,
		fsm:         fsm,
		rlog:        newLog(),
		registry:    registry,
		bus:         msgbus.New(),
		currentTerm: state.CurrentTerm,
		votedFor:    state.VotedFor,
		role:        Follower,
		progress:    make(map[uint16]*PeerProgress),
		peers:       make(map[uint16]*peerConn),
		commitIndex: atomicx.NewUint64(),
		lastApplied: atomicx.NewUint64(),
		started:     atomicx.NewBool(),
		stopc:       make(chan struct{}),
	}
	e.rlog.restore(state.Log)

	registry.Register(FuncRequestVote, e.handleRequestVote)
	registry.Register(FuncAppendEntries, e.handleAppendEntries)
	registry.Register(FuncInstallSnapshot, e.handleInstallSnapshot)

	return e, nil
}

// Bootstrap wires the cluster's initial peer set directly, bypassing
// the log: before any leader exists there is nothing to replicate
// through, so the node needs a standing peer list just to hold its
// first election. Called once from Node.Start.
func (e *Engine) Bootstrap(peers []Peer) {
	for _, p := range peers {
		e.addPeerLocal(p)
	}
}

// AddPeer submits a membership change for p and blocks until it
// commits, the redesigned path for configuration changes (spec §9;
// see DESIGN.md): membership flows through the same log every other
// command does, rather than mutating leader state directly.
func (e *Engine) AddPeer(p Peer) error {
	return e.submitConfigChange(configAddPeer, p)
}

// RemovePeer submits a membership change dropping id and blocks until
// it commits.
func (e *Engine) RemovePeer(id uint16) error {
	return e.submitConfigChange(configRemovePeer, Peer{ID: id})
}

func (e *Engine) submitConfigChange(op configOp, p Peer) error {
	index, _, err := e.SubmitConfiguration(encodeConfigChange(op, p))
	if err != nil {
		return err
	}
	return e.WaitCommitted(context.Background(), index, e.cfg.RPCTimeout*10)
}

// addPeerLocal registers a reachable peer in this node's own RPC
// client table and, if leading, its replication progress. Idempotent.
func (e *Engine) addPeerLocal(p Peer) {
	if p.ID == e.self {
		return
	}

	e.peersMu.Lock()
	if _, ok := e.peers[p.ID]; ok {
		e.peersMu.Unlock()
		return
	}
	e.peers[p.ID] = &peerConn{peer: p, client: rpc.Dial(p.Addr, e.self)}
	e.peersMu.Unlock()

	e.leaderMu.Lock()
	e.progress[p.ID] = &PeerProgress{NextIndex: e.rlog.lastIndex() + 1}
	e.leaderMu.Unlock()
}

// removePeerLocal drops a peer from this node's own RPC client table
// and replication progress.
func (e *Engine) removePeerLocal(id uint16) {
	e.peersMu.Lock()
	pc, ok := e.peers[id]
	delete(e.peers, id)
	e.peersMu.Unlock()
	if ok {
		pc.client.Close()
	}

	e.leaderMu.Lock()
	delete(e.progress, id)
	e.leaderMu.Unlock()
}

func (e *Engine) peerList() []*peerConn {
	e.peersMu.RLock()
	defer e.peersMu.RUnlock()
	out := make([]*peerConn, 0, len(e.peers))
	for _, pc := range e.peers {
		out = append(out, pc)
	}
	return out
}

// Start launches the election, heartbeat, and apply workers.
func (e *Engine) Start() {
	e.started.Set()
	e.resetElectionDeadline()

	e.wg.Add(3)
	go e.electionLoop()
	go e.heartbeatLoop()
	go e.applyLoop()

	log.Infof("raftengine: node %x started at term %d", e.self, e.getTerm())
}

// Close stops every worker and persists final state.
func (e *Engine) Close() error {
	if e.started.False() {
		return nil
	}
	e.started.UnSet()
	close(e.stopc)
	e.wg.Wait()

	e.peersMu.Lock()
	for _, pc := range e.peers {
		pc.client.Close()
	}
	e.peersMu.Unlock()

	e.bus.Close()
	return e.persist()
}

func (e *Engine) persist() error {
	e.mu.Lock()
	state := PersistentState{CurrentTerm: e.currentTerm, VotedFor: e.votedFor}
	e.mu.Unlock()
	state.Log = e.rlog.snapshotEntries()
	return e.store.Save(state)
}

// maybeSnapshot writes an FSM snapshot covering entries up to
// upToIndex and compacts the in-memory log to that point (spec §4.5's
// Config.SnapshotInterval). Failures are logged; applyReady tries again
// when it applies the next entry.
func (e *Engine) maybeSnapshot(upToIndex uint64) {
	term := e.rlog.termAt(upToIndex)
	data, err := e.fsm.Snapshot()
	if err != nil {
		log.Warnf("raftengine: snapshotting fsm at index %d: %v", upToIndex, err)
		return
	}

	if _, err := WriteSnapshot(e.store.Dir(), SnapshotMeta{LastIncludedIndex: upToIndex, LastIncludedTerm: term}, data); err != nil {
		log.Warnf("raftengine: writing snapshot at index %d: %v", upToIndex, err)
		return
	}

	e.rlog.compactPrefix(upToIndex, term)
	log.Infof("raftengine: node %x snapshotted through index %d", e.self, upToIndex)
}

func (e *Engine) getTerm() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTerm
}

// IsLeader reports whether this node currently believes itself leader.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == Leader
}

// GetTerm returns the current term.
func (e *Engine) GetTerm() uint64 { return e.getTerm() }

// GetLeader returns the last known leader id, or cluster.None if
// unknown.
func (e *Engine) GetLeader() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// GetCommitIndex returns the current commit index.
func (e *Engine) GetCommitIndex() uint64 { return e.commitIndex.Get() }

// GetLastApplied returns the last applied index.
func (e *Engine) GetLastApplied() uint64 { return e.lastApplied.Get() }

func (e *Engine) resetElectionDeadline() {
	span := e.cfg.ElectionTimeoutMax - e.cfg.ElectionTimeoutMin
	jitter := time.Duration(0)
	if span > 0 {
		jitter = time.Duration(rand.Int63n(int64(span)))
	}
	timeout := e.cfg.ElectionTimeoutMin + jitter

	e.mu.Lock()
	e.electionDeadline = clock.NowMS() + timeout.Milliseconds()
	e.mu.Unlock()
}

func (e *Engine) stepDown(term uint64) {
	e.mu.Lock()
	e.currentTerm = term
	e.votedFor = 0
	e.role = Follower
	e.mu.Unlock()
}

// SubmitCommand appends data as a new log entry if this node is
// leader, returning its assigned (index, term) (spec §4.5).
func (e *Engine) SubmitCommand(data []byte) (uint64, uint64, error) {
	return e.submit(EntryNormal, data)
}

// SubmitConfiguration appends a configuration-change entry, the
// redesigned path for peer membership changes (see DESIGN.md: spec §9
// open question resolved in favor of log-replicated configuration
// entries instead of direct leader-state mutation).
func (e *Engine) SubmitConfiguration(data []byte) (uint64, uint64, error) {
	return e.submit(EntryConfiguration, data)
}

func (e *Engine) submit(typ EntryType, data []byte) (uint64, uint64, error) {
	e.mu.Lock()
	if e.role != Leader {
		e.mu.Unlock()
		return 0, 0, ErrNotLeader
	}
	term := e.currentTerm
	e.mu.Unlock()

	ent := e.rlog.append(term, typ, data)
	return ent.Index, ent.Term, nil
}

// WaitCommitted blocks until the entry at index has committed and been
// applied to the FSM, or timeout elapses (spec §4.5's wait_committed).
func (e *Engine) WaitCommitted(ctx context.Context, index uint64, timeout time.Duration) error {
	if e.lastApplied.Get() >= index {
		return nil
	}

	sub := e.bus.SubscribeOnce(index)
	defer sub.Unsubscribe()

	// applyReady may have passed index between the check above and the
	// subscription, in which case its wakeup has already been sent.
	if e.lastApplied.Get() >= index {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-sub.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
