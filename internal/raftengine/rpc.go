package raftengine

import (
	"github.com/meshraft/meshraft/internal/wire"
)

// Function ids this engine registers on the shared rpc.Registry (spec
// §6's function id ranges): 0x40-0x42 is the Raft range. 0x01 is
// reserved for an example ADD function used in rpc package tests.
const (
	FuncRequestVote     uint8 = 0x40
	FuncAppendEntries   uint8 = 0x41
	FuncInstallSnapshot uint8 = 0x42
)

// RequestVoteArgs is Raft §5.2's RequestVote RPC request.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  uint16
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply is the RequestVote RPC response.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesArgs is Raft §5.3's AppendEntries RPC request (also used
// as the heartbeat when Entries is empty).
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     uint16
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

// AppendEntriesReply is the AppendEntries RPC response.
type AppendEntriesReply struct {
	Term          uint64
	Success       bool
	ConflictIndex uint64 // fast-backtrack hint on rejection
}

// InstallSnapshotArgs is Raft §7's InstallSnapshot RPC request. Only a
// single-chunk transfer is implemented (spec Non-goal: multi-chunk
// streaming).
type InstallSnapshotArgs struct {
	Term              uint64
	LeaderID          uint16
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

// InstallSnapshotReply is the InstallSnapshot RPC response.
type InstallSnapshotReply struct {
	Term uint64
}

func encodeRequestVoteArgs(a RequestVoteArgs) []byte {
	buf := wire.PutUint64(nil, a.Term)
	buf = wire.PutUint16(buf, a.CandidateID)
	buf = wire.PutUint64(buf, a.LastLogIndex)
	buf = wire.PutUint64(buf, a.LastLogTerm)
	return buf
}

func decodeRequestVoteArgs(buf []byte) RequestVoteArgs {
	return RequestVoteArgs{
		Term:         beUint64(buf[0:8]),
		CandidateID:  beUint16(buf[8:10]),
		LastLogIndex: beUint64(buf[10:18]),
		LastLogTerm:  beUint64(buf[18:26]),
	}
}

func encodeRequestVoteReply(r RequestVoteReply) []byte {
	buf := wire.PutUint64(nil, r.Term)
	granted := byte(0)
	if r.VoteGranted {
		granted = 1
	}
	return append(buf, granted)
}

func decodeRequestVoteReply(buf []byte) RequestVoteReply {
	return RequestVoteReply{Term: beUint64(buf[0:8]), VoteGranted: buf[8] == 1}
}

// encodeEntry follows spec §6's log entry wire layout: term(8) |
// index(8) | type(1) | data_len(4) | data | timestamp_ms(8) |
// client_id(2).
func encodeEntry(buf []byte, e Entry) []byte {
	buf = wire.PutUint64(buf, e.Term)
	buf = wire.PutUint64(buf, e.Index)
	buf = append(buf, byte(e.Type))
	buf = wire.PutUint32(buf, uint32(len(e.Data)))
	buf = append(buf, e.Data...)
	buf = wire.PutUint64(buf, uint64(e.Timestamp))
	buf = wire.PutUint16(buf, e.ClientID)
	return buf
}

func decodeEntry(buf []byte) (Entry, int) {
	e := Entry{
		Term:  beUint64(buf[0:8]),
		Index: beUint64(buf[8:16]),
		Type:  EntryType(buf[16]),
	}
	n := int(beUint32(buf[17:21]))
	off := 21
	e.Data = append([]byte(nil), buf[off:off+n]...)
	off += n
	e.Timestamp = int64(beUint64(buf[off : off+8]))
	off += 8
	e.ClientID = beUint16(buf[off : off+2])
	off += 2
	return e, off
}

func encodeAppendEntriesArgs(a AppendEntriesArgs) []byte {
	buf := wire.PutUint64(nil, a.Term)
	buf = wire.PutUint16(buf, a.LeaderID)
	buf = wire.PutUint64(buf, a.PrevLogIndex)
	buf = wire.PutUint64(buf, a.PrevLogTerm)
	buf = wire.PutUint32(buf, uint32(len(a.Entries)))
	for _, e := range a.Entries {
		buf = encodeEntry(buf, e)
	}
	buf = wire.PutUint64(buf, a.LeaderCommit)
	return buf
}

func decodeAppendEntriesArgs(buf []byte) AppendEntriesArgs {
	a := AppendEntriesArgs{
		Term:         beUint64(buf[0:8]),
		LeaderID:     beUint16(buf[8:10]),
		PrevLogIndex: beUint64(buf[10:18]),
		PrevLogTerm:  beUint64(buf[18:26]),
	}
	n := int(beUint32(buf[26:30]))
	off := 30
	a.Entries = make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e, used := decodeEntry(buf[off:])
		a.Entries = append(a.Entries, e)
		off += used
	}
	a.LeaderCommit = beUint64(buf[off : off+8])
	return a
}

func encodeAppendEntriesReply(r AppendEntriesReply) []byte {
	buf := wire.PutUint64(nil, r.Term)
	success := byte(0)
	if r.Success {
		success = 1
	}
	buf = append(buf, success)
	buf = wire.PutUint64(buf, r.ConflictIndex)
	return buf
}

func decodeAppendEntriesReply(buf []byte) AppendEntriesReply {
	return AppendEntriesReply{
		Term:          beUint64(buf[0:8]),
		Success:       buf[8] == 1,
		ConflictIndex: beUint64(buf[9:17]),
	}
}

func encodeInstallSnapshotArgs(a InstallSnapshotArgs) []byte {
	buf := wire.PutUint64(nil, a.Term)
	buf = wire.PutUint16(buf, a.LeaderID)
	buf = wire.PutUint64(buf, a.LastIncludedIndex)
	buf = wire.PutUint64(buf, a.LastIncludedTerm)
	buf = wire.PutUint64(buf, 0) // offset: always a single chunk
	buf = wire.PutUint32(buf, uint32(len(a.Data)))
	buf = append(buf, a.Data...)
	buf = append(buf, 1) // done
	return buf
}

// decodeInstallSnapshotArgs reads offset/done but does not act on them:
// every request is treated as one complete chunk.
func decodeInstallSnapshotArgs(buf []byte) InstallSnapshotArgs {
	n := int(beUint32(buf[34:38]))
	return InstallSnapshotArgs{
		Term:              beUint64(buf[0:8]),
		LeaderID:          beUint16(buf[8:10]),
		LastIncludedIndex: beUint64(buf[10:18]),
		LastIncludedTerm:  beUint64(buf[18:26]),
		Data:              append([]byte(nil), buf[38:38+n]...),
	}
}

func encodeInstallSnapshotReply(r InstallSnapshotReply) []byte {
	return wire.PutUint64(nil, r.Term)
}

func decodeInstallSnapshotReply(buf []byte) InstallSnapshotReply {
	return InstallSnapshotReply{Term: beUint64(buf[0:8])}
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b[:8] {
		v = v<<8 | uint64(x)
	}
	return v
}
