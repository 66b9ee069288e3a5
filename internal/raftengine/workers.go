package raftengine

import (
	"context"
	"sync"
	"time"

	"github.com/meshraft/meshraft/internal/clock"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/rpc"
)

// electionLoop is worker 1 (spec §4.5): every tick, if not leader and
// the election deadline has passed, start an election.
func (e *Engine) electionLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			expired := e.role != Leader && clock.NowMS() > e.electionDeadline
			e.mu.Unlock()
			if expired {
				e.startElection()
			}
		case <-e.stopc:
			return
		}
	}
}

func (e *Engine) startElection() {
	e.mu.Lock()
	e.role = Candidate
	e.currentTerm++
	e.votedFor = e.self
	term := e.currentTerm
	e.mu.Unlock()

	// Raft §5.6: term and vote must hit stable storage before this
	// node counts its own vote or asks anyone else for theirs.
	if err := e.persist(); err != nil {
		log.Warnf("raftengine: persisting state for election term %d: %v", term, err)
	}
	e.resetElectionDeadline()

	lastIndex := e.rlog.lastIndex()
	lastTerm := e.rlog.lastTerm()

	log.Infof("raftengine: node %x starting election for term %d", e.self, term)

	peers := e.peerList()
	votes := 1 // self
	total := len(peers) + 1
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pc := range peers {
		wg.Add(1)
		go func(pc *peerConn) {
			defer wg.Done()
			args := RequestVoteArgs{Term: term, CandidateID: e.self, LastLogIndex: lastIndex, LastLogTerm: lastTerm}
			reply, ok := e.callRequestVote(pc, args)
			if !ok {
				return
			}

			if reply.Term > term {
				e.stepDown(reply.Term)
				return
			}

			if reply.VoteGranted {
				mu.Lock()
				votes++
				mu.Unlock()
			}
		}(pc)
	}
	wg.Wait()

	e.mu.Lock()
	stillCandidate := e.role == Candidate && e.currentTerm == term
	e.mu.Unlock()
	if !stillCandidate {
		return
	}

	if votes*2 > total {
		e.becomeLeader(term)
	}
}

func (e *Engine) becomeLeader(term uint64) {
	e.mu.Lock()
	if e.role != Candidate || e.currentTerm != term {
		e.mu.Unlock()
		return
	}
	e.role = Leader
	e.leader = e.self
	e.mu.Unlock()

	lastIndex := e.rlog.lastIndex()
	e.leaderMu.Lock()
	for _, pg := range e.progress {
		pg.NextIndex = lastIndex + 1
		pg.MatchIndex = 0
	}
	e.leaderMu.Unlock()

	// commit barrier: a no-op entry at the new term (spec §4.5).
	e.rlog.append(term, EntryNoOp, nil)

	log.Infof("raftengine: node %x became leader for term %d", e.self, term)
}

// heartbeatLoop is worker 2 (spec §4.5): every heartbeat_interval, if
// leader, replicate to every peer and recompute commit_index.
func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.IsLeader() {
				e.replicateAll()
			}
		case <-e.stopc:
			return
		}
	}
}

func (e *Engine) replicateAll() {
	term := e.getTerm()
	peers := e.peerList()
	var wg sync.WaitGroup

	for _, pc := range peers {
		wg.Add(1)
		go func(pc *peerConn) {
			defer wg.Done()
			e.replicateOne(pc, term)
		}(pc)
	}
	wg.Wait()

	e.recomputeCommitIndex(term)
}

func (e *Engine) replicateOne(pc *peerConn, term uint64) {
	e.leaderMu.Lock()
	pg, ok := e.progress[pc.peer.ID]
	e.leaderMu.Unlock()
	if !ok {
		return
	}

	nextIndex := pg.NextIndex
	if nextIndex <= e.rlog.baseIndex() {
		e.sendInstallSnapshot(pc, term)
		return
	}

	prevIndex := nextIndex - 1
	prevTerm := e.rlog.termAt(prevIndex)

	end := nextIndex + uint64(e.cfg.MaxEntriesPerAppend)
	entries := e.rlog.slice(nextIndex, end)

	args := AppendEntriesArgs{
		Term:         term,
		LeaderID:     e.self,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: e.commitIndex.Get(),
	}

	reply, ok := e.callAppendEntries(pc, args)
	if !ok {
		return
	}

	if reply.Term > term {
		e.stepDown(reply.Term)
		return
	}

	e.leaderMu.Lock()
	defer e.leaderMu.Unlock()
	pg, ok = e.progress[pc.peer.ID]
	if !ok {
		return
	}

	if reply.Success {
		pg.MatchIndex = prevIndex + uint64(len(entries))
		pg.NextIndex = pg.MatchIndex + 1
	} else {
		if reply.ConflictIndex > 0 {
			pg.NextIndex = reply.ConflictIndex
		} else if pg.NextIndex > 1 {
			pg.NextIndex--
		}
	}
}

// recomputeCommitIndex implements Raft's commit-safety rule: the
// highest N > commitIndex with a majority of match_index >= N and
// log[N].term == current_term (spec §4.5).
func (e *Engine) recomputeCommitIndex(term uint64) {
	e.leaderMu.Lock()
	matches := make([]uint64, 0, len(e.progress)+1)
	for _, pg := range e.progress {
		matches = append(matches, pg.MatchIndex)
	}
	e.leaderMu.Unlock()
	matches = append(matches, e.rlog.lastIndex()) // leader's own match

	total := len(matches)
	current := e.commitIndex.Get()

	for n := e.rlog.lastIndex(); n > current; n-- {
		if e.rlog.termAt(n) != term {
			continue
		}
		count := 0
		for _, m := range matches {
			if m >= n {
				count++
			}
		}
		if count*2 > total {
			e.advanceCommitIndex(n)
			return
		}
	}
}

// advanceCommitIndex only advances the commit watermark. The
// wait_committed wakeup fires later, from applyReady, once the entry
// has actually been applied to the FSM (spec §4.6): a wakeup here
// would let a client's Get race the applier and observe its own write
// missing.
func (e *Engine) advanceCommitIndex(n uint64) {
	prev := e.commitIndex.Get()
	if n <= prev {
		return
	}
	e.commitIndex.Set(n)
}

// sendInstallSnapshot is the leader-side fallback for a follower whose
// NextIndex has fallen at or before this log's compacted base (spec
// §4.5/Raft §7): the entries it needs no longer exist locally, so the
// whole FSM state is shipped instead.
func (e *Engine) sendInstallSnapshot(pc *peerConn, term uint64) {
	data, err := e.fsm.Snapshot()
	if err != nil {
		log.Warnf("raftengine: snapshotting fsm for %x: %v", pc.peer.ID, err)
		return
	}

	args := InstallSnapshotArgs{
		Term:              term,
		LeaderID:          e.self,
		LastIncludedIndex: e.rlog.baseIndex(),
		LastIncludedTerm:  e.rlog.termAt(e.rlog.baseIndex()),
		Data:              data,
	}

	reply, ok := e.callInstallSnapshot(pc, args)
	if !ok {
		return
	}
	if reply.Term > term {
		e.stepDown(reply.Term)
		return
	}

	e.leaderMu.Lock()
	if pg, ok := e.progress[pc.peer.ID]; ok {
		pg.MatchIndex = args.LastIncludedIndex
		pg.NextIndex = args.LastIncludedIndex + 1
	}
	e.leaderMu.Unlock()
}

// applyLoop is worker 3 (spec §4.5): every tick, apply committed
// entries in strictly increasing index order.
func (e *Engine) applyLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.applyReady()
		case <-e.stopc:
			return
		}
	}
}

func (e *Engine) applyReady() {
	for e.lastApplied.Get() < e.commitIndex.Get() {
		next := e.lastApplied.Get() + 1
		ent, ok := e.rlog.at(next)
		if !ok {
			return
		}

		switch {
		case ent.Type == EntryNormal && len(ent.Data) > 0:
			if err := e.fsm.Apply(ent.Index, ent.Data); err != nil {
				log.Warnf("raftengine: applying entry %d: %v", ent.Index, err)
			}
		case ent.Type == EntryConfiguration:
			e.applyConfigEntry(ent)
		}

		e.lastApplied.Set(next)

		// The wait_committed wakeup belongs here, after the entry has
		// actually reached the FSM, not when commit_index merely
		// advanced: otherwise a client's Get right after its own Set
		// could race the applier and read a stale value (spec §4.6).
		e.bus.Broadcast(next, nil)

		if e.cfg.SnapshotInterval > 0 && next-e.rlog.baseIndex() >= e.cfg.SnapshotInterval {
			e.maybeSnapshot(next)
		}
	}
}

// applyConfigEntry applies a committed membership change to this
// node's own peer table (spec §9's log-replicated configuration
// redesign; see DESIGN.md).
func (e *Engine) applyConfigEntry(ent Entry) {
	op, p := decodeConfigChange(ent.Data)
	switch op {
	case configAddPeer:
		e.addPeerLocal(p)
	case configRemovePeer:
		e.removePeerLocal(p.ID)
	}
}

func (e *Engine) callRequestVote(pc *peerConn, args RequestVoteArgs) (RequestVoteReply, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()

	resp, status, err := pc.client.Call(ctx, FuncRequestVote, encodeRequestVoteArgs(args), e.cfg.RPCTimeout)
	if err != nil || status != rpc.StatusOK {
		return RequestVoteReply{}, false
	}
	return decodeRequestVoteReply(resp), true
}

func (e *Engine) callAppendEntries(pc *peerConn, args AppendEntriesArgs) (AppendEntriesReply, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()

	resp, status, err := pc.client.Call(ctx, FuncAppendEntries, encodeAppendEntriesArgs(args), e.cfg.RPCTimeout)
	if err != nil || status != rpc.StatusOK {
		return AppendEntriesReply{}, false
	}
	return decodeAppendEntriesReply(resp), true
}

func (e *Engine) callInstallSnapshot(pc *peerConn, args InstallSnapshotArgs) (InstallSnapshotReply, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()

	resp, status, err := pc.client.Call(ctx, FuncInstallSnapshot, encodeInstallSnapshotArgs(args), e.cfg.RPCTimeout)
	if err != nil || status != rpc.StatusOK {
		return InstallSnapshotReply{}, false
	}
	return decodeInstallSnapshotReply(resp), true
}

// handleRequestVote implements Raft §5.2's vote-granting rule (spec
// §4.5).
func (e *Engine) handleRequestVote(senderID uint16, req []byte) ([]byte, rpc.Status) {
	args := decodeRequestVoteArgs(req)

	e.mu.Lock()
	termChanged := false
	if args.Term > e.currentTerm {
		e.currentTerm = args.Term
		e.votedFor = 0
		e.role = Follower
		termChanged = true
	}

	granted := false
	if args.Term == e.currentTerm && (e.votedFor == 0 || e.votedFor == args.CandidateID) {
		lastIndex := e.rlog.lastIndex()
		lastTerm := e.rlog.lastTerm()
		upToDate := args.LastLogTerm > lastTerm ||
			(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)
		if upToDate {
			granted = true
			e.votedFor = args.CandidateID
		}
	}
	term := e.currentTerm
	e.mu.Unlock()

	// Raft §5.2: current_term/voted_for must be durable before the
	// vote is granted to the candidate, or a crash-and-restart could
	// vote twice in the same term.
	if granted || termChanged {
		if err := e.persist(); err != nil {
			log.Warnf("raftengine: persisting vote for term %d: %v", term, err)
		}
	}

	if granted {
		e.resetElectionDeadline()
	}

	return encodeRequestVoteReply(RequestVoteReply{Term: term, VoteGranted: granted}), rpc.StatusOK
}

// handleAppendEntries implements Raft §5.3 (spec §4.5).
func (e *Engine) handleAppendEntries(senderID uint16, req []byte) ([]byte, rpc.Status) {
	args := decodeAppendEntriesArgs(req)

	e.mu.Lock()
	termChanged := false
	if args.Term > e.currentTerm {
		e.currentTerm = args.Term
		e.votedFor = 0
		termChanged = true
	}
	if args.Term < e.currentTerm {
		term := e.currentTerm
		e.mu.Unlock()
		return encodeAppendEntriesReply(AppendEntriesReply{Term: term, Success: false}), rpc.StatusOK
	}

	e.role = Follower
	e.leader = args.LeaderID
	term := e.currentTerm
	e.mu.Unlock()
	e.resetElectionDeadline()

	if args.PrevLogIndex > 0 {
		if e.rlog.termAt(args.PrevLogIndex) != args.PrevLogTerm {
			conflict := args.PrevLogIndex
			if conflict > e.rlog.lastIndex() {
				conflict = e.rlog.lastIndex() + 1
			}
			if termChanged {
				if err := e.persist(); err != nil {
					log.Warnf("raftengine: persisting term bump from %x: %v", senderID, err)
				}
			}
			return encodeAppendEntriesReply(AppendEntriesReply{Term: term, Success: false, ConflictIndex: conflict}), rpc.StatusOK
		}
	}

	truncated := false
	for _, newEnt := range args.Entries {
		if existing, ok := e.rlog.at(newEnt.Index); ok && existing.Term != newEnt.Term {
			e.rlog.truncateFrom(newEnt.Index)
			truncated = true
			break
		}
	}

	toAppend := make([]Entry, 0, len(args.Entries))
	for _, newEnt := range args.Entries {
		if newEnt.Index > e.rlog.lastIndex() {
			toAppend = append(toAppend, newEnt)
		}
	}
	e.rlog.appendReplicated(toAppend)

	// Raft §5.3: the log suffix (and any term bump above) must be
	// durable before this node acknowledges success to the leader.
	if termChanged || truncated || len(toAppend) > 0 {
		if err := e.persist(); err != nil {
			log.Warnf("raftengine: persisting log from %x: %v", senderID, err)
		}
	}

	lastNew := args.PrevLogIndex + uint64(len(args.Entries))
	if args.LeaderCommit > e.commitIndex.Get() {
		n := args.LeaderCommit
		if lastNew < n {
			n = lastNew
		}
		e.advanceCommitIndex(n)
	}

	return encodeAppendEntriesReply(AppendEntriesReply{Term: term, Success: true}), rpc.StatusOK
}

// handleInstallSnapshot implements Raft §7 (spec §4.5), single-chunk
// only.
func (e *Engine) handleInstallSnapshot(senderID uint16, req []byte) ([]byte, rpc.Status) {
	args := decodeInstallSnapshotArgs(req)

	e.mu.Lock()
	if args.Term > e.currentTerm {
		e.currentTerm = args.Term
		e.votedFor = 0
	}
	if args.Term < e.currentTerm {
		term := e.currentTerm
		e.mu.Unlock()
		return encodeInstallSnapshotReply(InstallSnapshotReply{Term: term}), rpc.StatusOK
	}
	e.role = Follower
	e.leader = args.LeaderID
	term := e.currentTerm
	e.mu.Unlock()
	e.resetElectionDeadline()

	if err := e.fsm.Restore(args.Data); err != nil {
		log.Errorf("raftengine: restoring snapshot from %x: %v", senderID, err)
		return encodeInstallSnapshotReply(InstallSnapshotReply{Term: term}), rpc.StatusError
	}

	e.rlog.restore([]Entry{{Term: args.LastIncludedTerm, Index: args.LastIncludedIndex}})
	e.commitIndex.Set(args.LastIncludedIndex)
	e.lastApplied.Set(args.LastIncludedIndex)

	if err := e.persist(); err != nil {
		log.Warnf("raftengine: persisting installed snapshot from %x: %v", senderID, err)
	}

	return encodeInstallSnapshotReply(InstallSnapshotReply{Term: term}), rpc.StatusOK
}
