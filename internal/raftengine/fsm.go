package raftengine

// FSM is the pluggable state machine Raft apply drives (spec §4.6:
// "the KV store is the canonical state machine driven by Raft apply").
type FSM interface {
	// Apply executes one committed command. index is the log index it
	// was committed at, used by a KV-style FSM to stamp record versions.
	Apply(index uint64, data []byte) error
	// Snapshot returns a serialized copy of the FSM's entire state.
	Snapshot() ([]byte, error)
	// Restore replaces the FSM's state with a previously Snapshot-ted one.
	Restore(data []byte) error
}
