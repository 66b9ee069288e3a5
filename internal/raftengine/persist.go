package raftengine

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists PersistentState locally between restarts. Unlike the
// wire protocols, this on-disk format is never sent over the network,
// so it is grounded on gob rather than the spec's big-endian codecs
// (see DESIGN.md).
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory this Store persists into, also used to
// hold on-disk FSM snapshot files written alongside the persistent
// state.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath() string {
	return filepath.Join(s.dir, "state.gob")
}

// Save atomically persists state: write to a temp file, fsync, then
// rename over the target.
func (s *Store) Save(state PersistentState) error {
	tmp := s.statePath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := gob.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		return fmt.Errorf("raftengine: encoding persistent state: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, s.statePath())
}

// Load reads back the most recently Saved state. A missing file
// returns the zero PersistentState with a fresh log sentinel and no
// error (first boot).
func (s *Store) Load() (PersistentState, error) {
	f, err := os.Open(s.statePath())
	if os.IsNotExist(err) {
		return PersistentState{Log: []Entry{{}}}, nil
	}
	if err != nil {
		return PersistentState{}, err
	}
	defer f.Close()

	var state PersistentState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return PersistentState{}, fmt.Errorf("raftengine: decoding persistent state: %w", err)
	}
	return state, nil
}
