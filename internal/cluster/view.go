package cluster

import (
	"sync"

	"github.com/meshraft/meshraft/internal/clock"
)

// View is the single source of truth for membership (spec §4.1).
//
// Concurrency follows a single readers-writer lock: readers may overlap,
// writers are exclusive, and no lock is ever held across an outbound I/O
// call. The teacher-style "lock-held handle + explicit release" pattern
// (spec §9) is replaced outright: Get and the List* methods copy the
// Member out from under the read lock and return it by value, so there
// is nothing for the caller to release.
type View struct {
	mu      sync.RWMutex
	members map[uint16]Member
	local   uint16
}

// New returns an empty View. local is this node's own id, which
// ListNonDead(true) leaves out of its result. The view places no
// restriction on the local entry's status.
func New(local uint16) *View {
	return &View{
		members: make(map[uint16]Member),
		local:   local,
	}
}

// Add inserts or updates a member by NodeID.
func (v *View) Add(m Member) {
	v.mu.Lock()
	v.members[m.NodeID] = m
	v.mu.Unlock()
}

// UpdateStatus changes status only if incarnation >= the current value;
// equal incarnation allows escalation alive -> suspect -> dead but never
// the reverse. Returns whether the status actually changed.
func (v *View) UpdateStatus(id uint16, status Status, incarnation uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.members[id]
	if !ok {
		return false
	}

	if incarnation < m.Incarnation {
		return false
	}

	if incarnation == m.Incarnation && !escalates(m.Status, status) {
		return false
	}

	m.Status = status
	m.Incarnation = incarnation
	m.LastSeenMS = clock.NowMS()
	v.members[id] = m
	return true
}

// Touch refreshes a member's LastSeenMS without changing its status,
// used whenever any inbound message is received from it (spec §9's
// resolved open question: last_seen_ms updates on every inbound message,
// not only on full status transitions).
func (v *View) Touch(id uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m, ok := v.members[id]; ok {
		m.LastSeenMS = clock.NowMS()
		v.members[id] = m
	}
}

// Remove deletes a member from the view.
func (v *View) Remove(id uint16) {
	v.mu.Lock()
	delete(v.members, id)
	v.mu.Unlock()
}

// Get returns a copy of the member and whether it exists.
func (v *View) Get(id uint16) (Member, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.members[id]
	return m, ok
}

// ListByType returns every member of the given type.
func (v *View) ListByType(t NodeType) []Member {
	return v.filter(func(m Member) bool { return m.NodeType == t })
}

// ListAlive returns every member currently marked alive.
func (v *View) ListAlive() []Member {
	return v.filter(func(m Member) bool { return m.Status == Alive })
}

// ListByStatus returns every member with the given status.
func (v *View) ListByStatus(s Status) []Member {
	return v.filter(func(m Member) bool { return m.Status == s })
}

// ListNonDead returns every member not marked dead, excluding the local
// node when excludeLocal is true. Used to pick gossip/ping targets.
func (v *View) ListNonDead(excludeLocal bool) []Member {
	return v.filter(func(m Member) bool {
		if m.Status == Dead {
			return false
		}
		if excludeLocal && m.NodeID == v.local {
			return false
		}
		return true
	})
}

func (v *View) filter(cond func(Member) bool) []Member {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Member, 0, len(v.members))
	for _, m := range v.members {
		if cond(m) {
			out = append(out, m)
		}
	}
	return out
}

// Dump emits a structured snapshot of the whole view for debugging only.
func (v *View) Dump() []Member {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Member, 0, len(v.members))
	for _, m := range v.members {
		out = append(out, m)
	}
	return out
}

// escalates reports whether from -> to is a forward-only SWIM
// transition (alive -> suspect -> dead), used to resolve equal-incarnation
// conflicts without ever demoting a member.
func escalates(from, to Status) bool {
	switch {
	case from == Alive && (to == Suspect || to == Dead):
		return true
	case from == Suspect && to == Dead:
		return true
	default:
		return false
	}
}
