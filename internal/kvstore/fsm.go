package kvstore

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"
)

// Record is one stored key's value plus its versioning metadata (spec
// §3's "KV record"): version is the Raft log index at which it was
// last written.
type Record struct {
	Value     []byte
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FSM is the KV state machine Raft apply drives, implementing
// raftengine.FSM. All state lives behind a single read/write lock,
// taken for writes only during Apply and Restore and never held across
// I/O (spec
// §4.6's "applier ... executes atomically under the KV write lock").
type FSM struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewFSM returns an empty FSM.
func NewFSM() *FSM {
	return &FSM{records: make(map[string]Record)}
}

// Apply decodes and executes one committed command, stamping the
// record's version with the command's log index.
func (f *FSM) Apply(index uint64, data []byte) error {
	cmd, err := Decode(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CmdSet:
		now := time.Now()
		rec, existed := f.records[cmd.Key]
		created := now
		if existed {
			created = rec.CreatedAt
		}
		f.records[cmd.Key] = Record{
			Value:     cmd.Value,
			Version:   index,
			CreatedAt: created,
			UpdatedAt: now,
		}
	case CmdUnset:
		delete(f.records, cmd.Key)
	}

	return nil
}

// Get returns the record stored at key, if any.
func (f *FSM) Get(key string) (Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.records[key]
	return rec, ok
}

// Keys returns every currently-stored key (spec §4.6: "eventually
// consistent" listing, served from local state with no leader check).
func (f *FSM) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.records))
	for k := range f.records {
		out = append(out, k)
	}
	return out
}

// Snapshot serializes the entire record set.
func (f *FSM) Snapshot() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore replaces the FSM's state with a previously Snapshot-ted one.
func (f *FSM) Restore(data []byte) error {
	records := make(map[string]Record)
	if len(data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
	return nil
}
