package gossip

import (
	"sync"
	"testing"

	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	alive   []cluster.Member
	suspect []cluster.Member
	dead    []cluster.Member
	sent    []Message
}

func (o *recordingObserver) OnAlive(m cluster.Member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alive = append(o.alive, m)
}

func (o *recordingObserver) OnSuspect(m cluster.Member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspect = append(o.suspect, m)
}

func (o *recordingObserver) OnDead(m cluster.Member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dead = append(o.dead, m)
}
func (o *recordingObserver) OnSend(msg Message, dest *Peer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
}

func newTestProtocol(self uint16) (*Protocol, *recordingObserver, *cluster.View) {
	view := cluster.New(self)
	view.Add(cluster.Member{NodeID: self, NodeType: cluster.Router, Status: cluster.Alive, Incarnation: 0})
	queue := cluster.NewQueue(64, 4)
	obs := &recordingObserver{}
	cfg := DefaultConfig()
	return NewProtocol(self, cfg, view, queue, obs), obs, view
}

func TestMergeAddsUnknownMemberAsAlive(t *testing.T) {
	p, obs, view := newTestProtocol(1)

	p.merge(cluster.Update{NodeID: 2, NodeType: cluster.Worker, Status: cluster.Alive, IP: "10.0.0.2", Incarnation: 0})

	m, ok := view.Get(2)
	require.True(t, ok)
	require.Equal(t, cluster.Alive, m.Status)
	require.Len(t, obs.alive, 1)
}

func TestMergeIgnoresStaleIncarnation(t *testing.T) {
	p, obs, view := newTestProtocol(1)
	view.Add(cluster.Member{NodeID: 2, Status: cluster.Alive, Incarnation: 5})

	p.merge(cluster.Update{NodeID: 2, Status: cluster.Dead, Incarnation: 3})

	m, _ := view.Get(2)
	require.Equal(t, cluster.Alive, m.Status)
	require.Empty(t, obs.dead)
}

func TestMergeDeadToAliveRequiresHigherIncarnation(t *testing.T) {
	p, obs, view := newTestProtocol(1)
	view.Add(cluster.Member{NodeID: 2, Status: cluster.Dead, Incarnation: 5})

	p.merge(cluster.Update{NodeID: 2, Status: cluster.Alive, Incarnation: 5})
	m, _ := view.Get(2)
	require.Equal(t, cluster.Dead, m.Status, "equal incarnation must not resurrect a dead member")

	p.merge(cluster.Update{NodeID: 2, Status: cluster.Alive, Incarnation: 6})
	m, _ = view.Get(2)
	require.Equal(t, cluster.Alive, m.Status)
	require.Len(t, obs.alive, 1)
}

func TestHandleMessageSuspectSelfRefutes(t *testing.T) {
	p, obs, _ := newTestProtocol(1)

	p.HandleMessage(Message{
		Type:     Suspect,
		SenderID: 2,
		Updates:  []cluster.Update{{NodeID: 1, Status: cluster.Suspect, Incarnation: 0}},
	}, Peer{IP: "10.0.0.2", Port: 9000})

	require.Len(t, obs.sent, 1)
	require.Equal(t, Alive, obs.sent[0].Type)
	require.Equal(t, uint64(1), p.incarnation.Get())
}

func TestCheckTimeoutsSuspectsAfterAckTimeout(t *testing.T) {
	p, obs, view := newTestProtocol(1)
	view.Add(cluster.Member{NodeID: 2, Status: cluster.Alive, IP: "10.0.0.2", GossipPort: 1, Incarnation: 0})

	p.cfg.AckTimeout = -1 // force-expire immediately
	p.mu.Lock()
	p.pending[2] = pendingAck{target: 2, sentAt: 0}
	p.mu.Unlock()

	p.CheckTimeouts()

	m, _ := view.Get(2)
	require.Equal(t, cluster.Suspect, m.Status)
	require.Len(t, obs.suspect, 1)
}

func TestHandlePingRepliesWithAck(t *testing.T) {
	p, obs, _ := newTestProtocol(1)

	p.HandleMessage(Message{Type: Ping, SenderID: 2, Sequence: 1}, Peer{IP: "10.0.0.2", Port: 9000})

	require.Len(t, obs.sent, 1)
	require.Equal(t, Ack, obs.sent[0].Type)
}
