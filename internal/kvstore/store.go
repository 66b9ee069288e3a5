package kvstore

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/meshraft/meshraft/internal/raftengine"
)

// MaxKeyLen and MaxValueLen are the spec's §3 KV record bounds.
const (
	MaxKeyLen   = 256
	MaxValueLen = 1 << 20
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-.:/]+$`)

// Status is the outcome of a write, matching the spec's three named
// results: not_leader, timeout, or ok.
type Status uint8

const (
	StatusOK Status = iota
	StatusNotLeader
	StatusTimeout
)

var (
	ErrKeyTooLong    = errors.New("kvstore: key exceeds maximum length")
	ErrKeyInvalid    = errors.New("kvstore: key contains characters outside [A-Za-z0-9_-.:/]")
	ErrValueTooLarge = errors.New("kvstore: value exceeds maximum size")
)

// Store is the client-facing KV surface over a raftengine.Engine and
// its FSM (spec §4.6's write/read/apply paths).
type Store struct {
	engine  *raftengine.Engine
	fsm     *FSM
	timeout time.Duration
}

// New wraps engine/fsm into a Store. timeout bounds wait_committed.
func New(engine *raftengine.Engine, fsm *FSM, timeout time.Duration) *Store {
	return &Store{engine: engine, fsm: fsm, timeout: timeout}
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}
	return nil
}

// Set writes key=value through Raft (spec §4.6's write path).
func (s *Store) Set(ctx context.Context, key string, value []byte) (Status, error) {
	if err := validateKey(key); err != nil {
		return StatusNotLeader, err
	}
	if len(value) > MaxValueLen {
		return StatusNotLeader, ErrValueTooLarge
	}

	return s.submit(ctx, EncodeSet(key, value))
}

// Unset removes key through Raft.
func (s *Store) Unset(ctx context.Context, key string) (Status, error) {
	if err := validateKey(key); err != nil {
		return StatusNotLeader, err
	}
	return s.submit(ctx, EncodeUnset(key))
}

func (s *Store) submit(ctx context.Context, cmd []byte) (Status, error) {
	index, _, err := s.engine.SubmitCommand(cmd)
	if errors.Is(err, raftengine.ErrNotLeader) {
		return StatusNotLeader, err
	}
	if err != nil {
		return StatusNotLeader, err
	}

	if err := s.engine.WaitCommitted(ctx, index, s.timeout); err != nil {
		return StatusTimeout, err
	}

	return StatusOK, nil
}

// Get reads key from local state, but only when this node is the
// current leader (spec §4.6's read-index-optimized read path).
func (s *Store) Get(key string) (Record, Status) {
	if !s.engine.IsLeader() {
		return Record{}, StatusNotLeader
	}

	rec, ok := s.fsm.Get(key)
	if !ok {
		return Record{}, StatusOK
	}
	return rec, StatusOK
}

// Keys lists every stored key from local state (eventually consistent,
// no leader check per spec §4.6).
func (s *Store) Keys() []string {
	return s.fsm.Keys()
}
