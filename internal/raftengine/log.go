package raftengine

import (
	"sync"

	"github.com/meshraft/meshraft/internal/clock"
)

// raftLog is the in-memory replicated log, 1-indexed like Raft's own
// description. entries[0] is a sentinel holding the term/index of the
// last compacted (snapshotted) entry, or the zero index/term on a
// fresh log. It is shared across the election, replication, and apply
// workers under a single rwlock (spec §5's "Raft log is shared ...
// under one rwlock").
type raftLog struct {
	mu      sync.RWMutex
	entries []Entry // entries[0] is the sentinel at base
	base    uint64  // index represented by entries[0]
}

func newLog() *raftLog {
	return &raftLog{entries: []Entry{{}}}
}

// restore replaces the log wholesale, used when loading persisted
// state or installing a snapshot. entries[0] carries the log's base
// index/term.
func (l *raftLog) restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) == 0 {
		l.entries = []Entry{{}}
		l.base = 0
		return
	}
	l.entries = entries
	l.base = entries[0].Index
}

// append adds a new entry at the next index and returns it, with its
// assigned index and timestamp filled in.
func (l *raftLog) append(term uint64, typ EntryType, data []byte) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{
		Term:      term,
		Index:     l.base + uint64(len(l.entries)),
		Type:      typ,
		Data:      data,
		Timestamp: clock.NowMS(),
	}
	l.entries = append(l.entries, e)
	return e
}

// baseIndex returns the index of the last compacted entry (0 if the
// log has never been compacted).
func (l *raftLog) baseIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base
}

// lastIndex returns the index of the last entry (base if empty).
func (l *raftLog) lastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base + uint64(len(l.entries)) - 1
}

// lastTerm returns the term of the last entry.
func (l *raftLog) lastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Term
}

// termAt returns the term stored at index, or 0 if out of range or
// already compacted away.
func (l *raftLog) termAt(index uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < l.base {
		return 0
	}
	rel := index - l.base
	if rel >= uint64(len(l.entries)) {
		return 0
	}
	return l.entries[rel].Term
}

// at returns the entry at index and whether it exists locally (a
// compacted index is reported as absent; the caller falls back to
// InstallSnapshot).
func (l *raftLog) at(index uint64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < l.base {
		return Entry{}, false
	}
	rel := index - l.base
	if rel >= uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[rel], true
}

// slice returns entries in [from, to) (to == 0 means through the end),
// clamped to what remains after compaction.
func (l *raftLog) slice(from, to uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.base + uint64(len(l.entries))
	if from < l.base {
		from = l.base
	}
	if from >= n {
		return nil
	}
	if to == 0 || to > n {
		to = n
	}
	relFrom, relTo := from-l.base, to-l.base
	out := make([]Entry, relTo-relFrom)
	copy(out, l.entries[relFrom:relTo])
	return out
}

// truncateFrom discards every entry at or after index, used when a
// follower's log conflicts with the leader's (Raft §5.3).
func (l *raftLog) truncateFrom(index uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < l.base {
		return
	}
	rel := index - l.base
	if rel < uint64(len(l.entries)) {
		l.entries = l.entries[:rel]
	}
}

// appendReplicated appends entries received via AppendEntries, which
// already carry their index/term.
func (l *raftLog) appendReplicated(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

// snapshotEntries returns a copy of the full entry slice for
// persistence.
func (l *raftLog) snapshotEntries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// compactPrefix discards every entry up to and including index,
// replacing it with a sentinel carrying term: the point an on-disk
// snapshot written alongside this call now covers (spec §4.5's
// snapshot/compaction pairing). A no-op if index is at or before the
// current base.
func (l *raftLog) compactPrefix(index, term uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index <= l.base {
		return
	}
	rel := index - l.base
	sentinel := Entry{Index: index, Term: term}
	if rel >= uint64(len(l.entries)) {
		l.entries = []Entry{sentinel}
	} else {
		retained := append([]Entry(nil), l.entries[rel:]...)
		l.entries = append([]Entry{sentinel}, retained...)
	}
	l.base = index
}
