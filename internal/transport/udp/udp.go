// Package udp is the datagram transport the gossip engine runs on: bind
// a socket, hand every inbound packet to a callback, tolerate transient
// read errors, and stop cleanly on Close (spec §4.2's "unreliable
// datagram delivery").
package udp

import (
	"errors"
	"net"
	"sync"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/log"
)

// MaxDatagramSize bounds a single read buffer; bigger gossip payloads
// never occur since the codec truncates piggyback batches (spec §6).
const MaxDatagramSize = 65507

// Handler receives one datagram's payload and its source address.
type Handler func(payload []byte, from *net.UDPAddr)

// Transport is a bound UDP socket with a receive loop.
type Transport struct {
	conn    *net.UDPConn
	handler Handler
	closed  *atomicx.Bool
	wg      sync.WaitGroup
}

// Listen binds addr (host:port) and returns an unstarted Transport.
func Listen(addr string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	return &Transport{conn: conn, closed: atomicx.NewBool()}, nil
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Serve runs the receive loop until Close, invoking handler for every
// datagram. Only one Serve call per Transport is meaningful.
func (t *Transport) Serve(handler Handler) {
	t.handler = handler
	t.wg.Add(1)
	defer t.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.True() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Warnf("udp: read error: %v", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		t.handler(payload, from)
	}
}

// Send writes payload to dest.
func (t *Transport) Send(payload []byte, dest *net.UDPAddr) error {
	_, err := t.conn.WriteToUDP(payload, dest)
	return err
}

// Close stops the receive loop and releases the socket.
func (t *Transport) Close() error {
	if t.closed.True() {
		return nil
	}
	t.closed.Set()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
