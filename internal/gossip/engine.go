package gossip

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/transport/udp"
)

// EventHandler is the application-level capability the engine drives on
// membership changes, one layer above the protocol's own Observer (spec
// §9's callback-to-interface redesign, applied at the public-facing
// boundary too).
type EventHandler interface {
	MemberAlive(m cluster.Member)
	MemberSuspect(m cluster.Member)
	MemberDead(m cluster.Member)
}

// NopEventHandler implements EventHandler with no-ops, the default when
// a caller doesn't care about membership events.
type NopEventHandler struct{}

func (NopEventHandler) MemberAlive(cluster.Member)   {}
func (NopEventHandler) MemberSuspect(cluster.Member) {}
func (NopEventHandler) MemberDead(cluster.Member)    {}

// EngineConfig configures a running Engine.
type EngineConfig struct {
	Self       uint16
	NodeType   cluster.NodeType
	BindAddr   string // host:port for the gossip UDP socket
	DataPort   uint16 // advertised, not bound by this engine
	Protocol   Config
	Handler    EventHandler
	Bootstrap  []BootstrapRecord // served to joiners when this node is a router
}

// Engine owns the UDP transport, the SWIM protocol, and the view/queue
// it drives; it is the thing internal/daemon-equivalent code starts and
// stops.
type Engine struct {
	cfg     EngineConfig
	view    *cluster.View
	queue   *cluster.Queue
	proto   *Protocol
	udp     *udp.Transport
	started *atomicx.Bool
	stopc   chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	bootstrap []BootstrapRecord
}

// New builds an unstarted Engine.
func New(cfg EngineConfig) *Engine {
	if cfg.Handler == nil {
		cfg.Handler = NopEventHandler{}
	}

	view := cluster.New(cfg.Self)
	queue := cluster.NewQueue(1024, cfg.Protocol.Fanout)

	e := &Engine{
		cfg:       cfg,
		view:      view,
		queue:     queue,
		started:   atomicx.NewBool(),
		stopc:     make(chan struct{}),
		bootstrap: cfg.Bootstrap,
	}
	e.proto = NewProtocol(cfg.Self, cfg.Protocol, view, queue, e)
	return e
}

// View exposes the membership view for read access by the rest of the
// node (membership listing, routing decisions).
func (e *Engine) View() *cluster.View { return e.view }

// Stats exposes the protocol's counters.
func (e *Engine) Stats() Stats { return e.proto.Stats() }

// Start binds the UDP socket and launches the round/timeout/receive
// loops. ip/gossipPort are this node's own advertised gossip address.
func (e *Engine) Start(ip string, gossipPort uint16) error {
	t, err := udp.Listen(e.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("gossip: bind %s: %w", e.cfg.BindAddr, err)
	}
	e.udp = t
	e.started.Set()

	e.proto.AnnounceJoin(ip, gossipPort, e.cfg.DataPort, e.cfg.NodeType)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.udp.Serve(e.onDatagram)
	}()

	e.wg.Add(1)
	go e.roundLoop()

	e.wg.Add(1)
	go e.timeoutLoop()

	log.Infof("gossip: node %x listening on %s", e.cfg.Self, e.cfg.BindAddr)
	return nil
}

// Close stops the engine's loops and releases the socket.
func (e *Engine) Close() error {
	if e.started.False() {
		return nil
	}
	e.started.UnSet()
	e.proto.AnnounceLeave()
	close(e.stopc)
	err := e.udp.Close()
	e.wg.Wait()
	return err
}

// Join sends a JOIN to a not-yet-known seed address (host:port).
func (e *Engine) Join(seedAddr string) error {
	host, portStr, err := net.SplitHostPort(seedAddr)
	if err != nil {
		return err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return err
	}

	msg := e.proto.Join()
	dest := Peer{IP: host, Port: uint16(port)}
	return e.sendTo(msg, dest)
}

func (e *Engine) roundLoop() {
	defer e.wg.Done()
	period := time.Duration(e.cfg.Protocol.ProtocolPeriod) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.proto.RunRound()
		case <-e.stopc:
			return
		}
	}
}

func (e *Engine) timeoutLoop() {
	defer e.wg.Done()
	period := time.Duration(e.cfg.Protocol.AckTimeout) * time.Millisecond
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.proto.CheckTimeouts()
		case <-e.stopc:
			return
		}
	}
}

func (e *Engine) onDatagram(payload []byte, from *net.UDPAddr) {
	msg, err := Decode(payload)
	if err != nil {
		log.Warnf("gossip: dropping undecodable datagram from %s: %v", from, err)
		return
	}

	if msg.Type == Join && e.cfg.NodeType == cluster.Router {
		e.replyJoin(msg, from)
	}

	e.proto.HandleMessage(msg, Peer{IP: from.IP.String(), Port: uint16(from.Port)})
}

func (e *Engine) replyJoin(msg Message, from *net.UDPAddr) {
	e.mu.Lock()
	digest := make([]BootstrapRecord, len(e.bootstrap))
	copy(digest, e.bootstrap)
	e.mu.Unlock()

	resp := Message{
		Version:   Version,
		Type:      JoinResponse,
		SenderID:  e.cfg.Self,
		Bootstrap: digest,
	}
	if err := e.sendTo(resp, Peer{IP: from.IP.String(), Port: uint16(from.Port)}); err != nil {
		log.Warnf("gossip: sending join response to %s: %v", from, err)
	}
}

// SetBootstrap replaces the digest served to new joiners (called by the
// router-management layer as routers come and go).
func (e *Engine) SetBootstrap(records []BootstrapRecord) {
	e.mu.Lock()
	e.bootstrap = records
	e.mu.Unlock()
}

func (e *Engine) sendTo(msg Message, dest Peer) error {
	addr := &net.UDPAddr{IP: net.ParseIP(dest.IP), Port: int(dest.Port)}
	return e.udp.Send(Encode(msg), addr)
}

// OnAlive implements Observer.
func (e *Engine) OnAlive(m cluster.Member) { e.cfg.Handler.MemberAlive(m) }

// OnSuspect implements Observer.
func (e *Engine) OnSuspect(m cluster.Member) { e.cfg.Handler.MemberSuspect(m) }

// OnDead implements Observer.
func (e *Engine) OnDead(m cluster.Member) { e.cfg.Handler.MemberDead(m) }

// OnSend implements Observer: dest == nil means broadcast to every
// non-dead peer other than this node.
func (e *Engine) OnSend(msg Message, dest *Peer) {
	if dest != nil {
		if err := e.sendTo(msg, *dest); err != nil {
			log.Warnf("gossip: send %v to %s:%d: %v", msg.Type, dest.IP, dest.Port, err)
		}
		return
	}

	for _, m := range e.view.ListNonDead(true) {
		if err := e.sendTo(msg, Peer{IP: m.IP, Port: m.GossipPort}); err != nil {
			log.Warnf("gossip: broadcast %v to %x: %v", msg.Type, m.NodeID, err)
		}
	}
}
