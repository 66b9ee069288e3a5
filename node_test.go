package meshraft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnReservedID(t *testing.T) {
	require.Panics(t, func() {
		New(0)
	})
}

func TestNewBuildsUnstartedNode(t *testing.T) {
	n := New(7, WithNodeType(Worker))
	require.Equal(t, uint16(7), n.Whoami())
	require.Empty(t, n.Members(Router))
	require.Empty(t, n.AliveMembers())
}

type recordingGossipObserver struct {
	alive, suspect, dead []Member
}

func (r *recordingGossipObserver) OnAlive(m Member)   { r.alive = append(r.alive, m) }
func (r *recordingGossipObserver) OnSuspect(m Member) { r.suspect = append(r.suspect, m) }
func (r *recordingGossipObserver) OnDead(m Member)    { r.dead = append(r.dead, m) }

func TestWithGossipObserverStoresObserver(t *testing.T) {
	obs := &recordingGossipObserver{}
	n := New(9, WithGossipObserver(obs))

	got, ok := n.cfg.gossipHandler.(*recordingGossipObserver)
	require.True(t, ok)
	require.Same(t, obs, got)
}
