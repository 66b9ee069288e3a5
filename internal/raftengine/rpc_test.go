package raftengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestVoteArgsRoundTrip(t *testing.T) {
	a := RequestVoteArgs{Term: 7, CandidateID: 3, LastLogIndex: 42, LastLogTerm: 6}
	require.Equal(t, a, decodeRequestVoteArgs(encodeRequestVoteArgs(a)))
}

func TestRequestVoteReplyRoundTrip(t *testing.T) {
	r := RequestVoteReply{Term: 7, VoteGranted: true}
	require.Equal(t, r, decodeRequestVoteReply(encodeRequestVoteReply(r)))
}

func TestAppendEntriesArgsRoundTrip(t *testing.T) {
	a := AppendEntriesArgs{
		Term:         5,
		LeaderID:     1,
		PrevLogIndex: 10,
		PrevLogTerm:  4,
		Entries: []Entry{
			{Term: 5, Index: 11, Type: EntryNormal, Data: []byte("hello")},
			{Term: 5, Index: 12, Type: EntryConfiguration, Data: nil},
		},
		LeaderCommit: 9,
	}
	require.Equal(t, a, decodeAppendEntriesArgs(encodeAppendEntriesArgs(a)))
}

func TestAppendEntriesReplyRoundTrip(t *testing.T) {
	r := AppendEntriesReply{Term: 5, Success: false, ConflictIndex: 3}
	require.Equal(t, r, decodeAppendEntriesReply(encodeAppendEntriesReply(r)))
}

func TestInstallSnapshotArgsRoundTrip(t *testing.T) {
	a := InstallSnapshotArgs{Term: 2, LeaderID: 9, LastIncludedIndex: 100, LastIncludedTerm: 2, Data: []byte("snapshot-bytes")}
	require.Equal(t, a, decodeInstallSnapshotArgs(encodeInstallSnapshotArgs(a)))
}
