package gossip

import (
	"math/rand"
	"sync"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/clock"
	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/meshraft/meshraft/internal/log"
)

// Observer is the capability set the SWIM state machine drives instead
// of a raw (fn_pointer, void_ptr) callback pair (spec §9's redesign of
// "raw callbacks with opaque context").
type Observer interface {
	OnAlive(m cluster.Member)
	OnSuspect(m cluster.Member)
	OnDead(m cluster.Member)
	// OnSend is called with dest == nil to mean "broadcast to every
	// non-dead peer".
	OnSend(msg Message, dest *Peer)
}

// Config holds the SWIM round timers (spec §4.3).
type Config struct {
	ProtocolPeriod  int64 // ms
	AckTimeout      int64 // ms
	DeadTimeout     int64 // ms
	Fanout          int
	MaxPiggyback    int
	PendingAckLimit int
}

// DefaultConfig returns the spec's default timers.
func DefaultConfig() Config {
	return Config{
		ProtocolPeriod:  1000,
		AckTimeout:      500,
		DeadTimeout:     5000,
		Fanout:          3,
		MaxPiggyback:    MaxPiggyback,
		PendingAckLimit: 4096,
	}
}

type pendingAck struct {
	target uint16
	sentAt int64
}

// Stats are the protocol's free-running counters (spec §4.3/§7).
type Stats struct {
	PingsSent        *atomicx.Int64
	AcksReceived     *atomicx.Int64
	SuspectCount     *atomicx.Int64
	TruncatedUpdates *atomicx.Int64
	DroppedPending   *atomicx.Int64
}

func newStats() Stats {
	return Stats{
		PingsSent:        atomicx.NewInt64(),
		AcksReceived:     atomicx.NewInt64(),
		SuspectCount:     atomicx.NewInt64(),
		TruncatedUpdates: atomicx.NewInt64(),
		DroppedPending:   atomicx.NewInt64(),
	}
}

// Protocol is the pure SWIM state machine: no I/O of its own, every
// effect goes out through Observer (spec §4.3).
type Protocol struct {
	self        uint16
	cfg         Config
	view        *cluster.View
	queue       *cluster.Queue
	observer    Observer
	seq         *atomicx.Uint64
	incarnation *atomicx.Uint64
	stats       Stats

	mu      sync.Mutex
	pending map[uint16]pendingAck
}

// NewProtocol builds a Protocol bound to view/queue for node self.
func NewProtocol(self uint16, cfg Config, view *cluster.View, queue *cluster.Queue, obs Observer) *Protocol {
	return &Protocol{
		self:        self,
		cfg:         cfg,
		view:        view,
		queue:       queue,
		observer:    obs,
		seq:         atomicx.NewUint64(),
		incarnation: atomicx.NewUint64(),
		stats:       newStats(),
		pending:     make(map[uint16]pendingAck),
	}
}

// Stats exposes the protocol's counters.
func (p *Protocol) Stats() Stats { return p.stats }

// AnnounceJoin inserts self into the view as alive at the current
// incarnation (spec §4.3).
func (p *Protocol) AnnounceJoin(ip string, gossipPort, dataPort uint16, nodeType cluster.NodeType) {
	p.view.Add(cluster.Member{
		NodeID:      p.self,
		NodeType:    nodeType,
		IP:          ip,
		GossipPort:  gossipPort,
		DataPort:    dataPort,
		Status:      cluster.Alive,
		Incarnation: p.incarnation.Get(),
		LastSeenMS:  clock.NowMS(),
	})
}

// AnnounceLeave broadcasts a LEAVE carrying self marked dead.
func (p *Protocol) AnnounceLeave() {
	self, ok := p.view.Get(p.self)
	if !ok {
		return
	}
	self.Status = cluster.Dead
	p.view.UpdateStatus(p.self, cluster.Dead, self.Incarnation)

	msg := p.newMessage(Leave, []cluster.Update{cluster.FromMember(self, clock.NowMS())})
	p.observer.OnSend(msg, nil)
}

// Join builds the JOIN message add_seed sends to a not-yet-known seed.
func (p *Protocol) Join() Message {
	self, ok := p.view.Get(p.self)
	if !ok {
		return p.newMessage(Join, nil)
	}
	return p.newMessage(Join, []cluster.Update{cluster.FromMember(self, clock.NowMS())})
}

func (p *Protocol) newMessage(t MsgType, updates []cluster.Update) Message {
	return Message{
		Version:  Version,
		Type:     t,
		SenderID: p.self,
		Sequence: p.seq.Add(1),
		Updates:  updates,
	}
}

// buildPiggyback draws up to max updates: first queued changes, oldest
// first, then, if the queue didn't fill the batch, a random sample of
// the view (excluding dead members and self), stamped with a fresh
// timestamp (spec §4.3).
func (p *Protocol) buildPiggyback(max int) []cluster.Update {
	out := p.queue.PeekN(max)
	if len(out) >= max {
		return out
	}

	now := clock.NowMS()
	candidates := p.view.ListNonDead(true)
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	for _, m := range candidates {
		if len(out) >= max {
			break
		}
		out = append(out, cluster.FromMember(m, now))
	}
	return out
}

// RunRound executes one SWIM protocol round (spec §4.3).
func (p *Protocol) RunRound() {
	targets := p.view.ListNonDead(true)
	if len(targets) == 0 {
		return
	}

	target := targets[rand.Intn(len(targets))]
	msg := p.newMessage(Ping, p.buildPiggyback(p.cfg.MaxPiggyback))

	p.mu.Lock()
	if len(p.pending) >= p.cfg.PendingAckLimit {
		p.mu.Unlock()
		p.stats.DroppedPending.Incr()
		log.Warnf("gossip: pending ack table full, dropping ping to %x", target.NodeID)
		return
	}
	p.pending[target.NodeID] = pendingAck{target: target.NodeID, sentAt: clock.NowMS()}
	p.mu.Unlock()

	p.stats.PingsSent.Incr()
	p.observer.OnSend(msg, &Peer{IP: target.IP, Port: target.GossipPort})
}

// CheckTimeouts runs the ack-timeout and dead-timeout sweeps (spec §4.3).
func (p *Protocol) CheckTimeouts() {
	now := clock.NowMS()

	p.mu.Lock()
	expired := make([]uint16, 0)
	for id, pa := range p.pending {
		if now-pa.sentAt > p.cfg.AckTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	for _, id := range expired {
		m, ok := p.view.Get(id)
		if !ok || m.Status != cluster.Alive {
			continue
		}
		if p.view.UpdateStatus(id, cluster.Suspect, m.Incarnation) {
			m.Status = cluster.Suspect
			p.stats.SuspectCount.Incr()
			p.enqueue(m)
			p.observer.OnSuspect(m)
		}
	}

	for _, m := range p.view.ListByStatus(cluster.Suspect) {
		if now-m.LastSeenMS > p.cfg.DeadTimeout {
			if p.view.UpdateStatus(m.NodeID, cluster.Dead, m.Incarnation) {
				m.Status = cluster.Dead
				p.enqueue(m)
				p.observer.OnDead(m)
			}
		}
	}
}

// HandleMessage processes one inbound gossip message (spec §4.3). src is
// the address it actually arrived from, used to address ACK replies.
func (p *Protocol) HandleMessage(msg Message, src Peer) {
	if msg.SenderID == p.self {
		return
	}

	if msg.Truncated > 0 {
		p.stats.TruncatedUpdates.Add(int64(msg.Truncated))
		log.Warnf("gossip: message from %x truncated %d update(s)", msg.SenderID, msg.Truncated)
	}

	p.view.Touch(msg.SenderID)

	switch msg.Type {
	case Ping:
		p.mergeAll(msg.Updates)
		ack := p.newMessage(Ack, p.buildPiggyback(p.cfg.MaxPiggyback))
		p.observer.OnSend(ack, &src)

	case Ack:
		p.mu.Lock()
		delete(p.pending, msg.SenderID)
		p.mu.Unlock()
		p.stats.AcksReceived.Incr()

		if m, ok := p.view.Get(msg.SenderID); ok && m.Status == cluster.Suspect {
			if p.view.UpdateStatus(msg.SenderID, cluster.Alive, m.Incarnation) {
				m.Status = cluster.Alive
				p.enqueue(m)
				p.observer.OnAlive(m)
			}
		}
		p.mergeAll(msg.Updates)

	case Suspect:
		for _, u := range msg.Updates {
			if u.NodeID == p.self && u.Status == cluster.Suspect && u.Incarnation >= p.incarnation.Get() {
				next := p.incarnation.Add(1)
				self, ok := p.view.Get(p.self)
				if !ok {
					continue
				}
				self.Incarnation = next
				self.Status = cluster.Alive
				p.view.Add(self)
				alive := p.newMessage(Alive, []cluster.Update{cluster.FromMember(self, clock.NowMS())})
				p.observer.OnSend(alive, nil)
				continue
			}
			p.merge(u)
		}

	case Alive, Dead:
		p.mergeAll(msg.Updates)

	case Join:
		p.mergeAll(msg.Updates)
		ack := p.newMessage(Ack, p.buildPiggyback(p.cfg.MaxPiggyback))
		p.observer.OnSend(ack, &src)

	case Leave, WorkerJoin:
		p.mergeAll(msg.Updates)

	case JoinResponse:
		for _, r := range msg.Bootstrap {
			p.merge(cluster.Update{
				NodeID:      r.NodeID,
				NodeType:    cluster.Router,
				Status:      cluster.Alive,
				IP:          r.GossipAddr,
				Incarnation: 0,
				TimestampMS: clock.NowMS(),
			})
		}
		p.mergeAll(msg.Updates)
	}
}

func (p *Protocol) mergeAll(updates []cluster.Update) {
	for _, u := range updates {
		p.merge(u)
	}
}

// merge applies the Merge Rule (spec §4.3) for one incoming update.
func (p *Protocol) merge(u cluster.Update) {
	if u.NodeID == p.self {
		return
	}

	l, exists := p.view.Get(u.NodeID)
	if !exists {
		m := u.ToMember()
		p.view.Add(m)
		p.enqueue(m)
		p.fireFor(m)
		return
	}

	switch {
	case l.Status == cluster.Dead && u.Status == cluster.Alive && u.Incarnation > l.Incarnation:
		m := u.ToMember()
		p.view.Add(m)
		p.enqueue(m)
		p.observer.OnAlive(m)

	case u.Incarnation > l.Incarnation:
		m := u.ToMember()
		p.view.Add(m)
		p.enqueue(m)
		p.fireFor(m)

	case u.Incarnation == l.Incarnation:
		if p.view.UpdateStatus(u.NodeID, u.Status, u.Incarnation) {
			m, _ := p.view.Get(u.NodeID)
			p.enqueue(m)
			p.fireFor(m)
		}

	default:
		// stale, ignore.
	}
}

func (p *Protocol) enqueue(m cluster.Member) {
	u := cluster.FromMember(m, clock.NowMS())
	if err := p.queue.Push(u); err != nil {
		log.Warnf("gossip: update queue full, dropping update for %x", m.NodeID)
	}
}

func (p *Protocol) fireFor(m cluster.Member) {
	switch m.Status {
	case cluster.Alive:
		p.observer.OnAlive(m)
	case cluster.Suspect:
		p.observer.OnSuspect(m)
	case cluster.Dead:
		p.observer.OnDead(m)
	}
}
