package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/log"
	"github.com/meshraft/meshraft/internal/msgbus"
	"github.com/meshraft/meshraft/internal/wire"
)

// Client is a persistent, reconnecting RPC connection to one peer
// (spec §4.7): Call is synchronous request/reply, Send is fire-and-
// forget. Responses are correlated to their request by request id via
// an internal msgbus, the same correlation idiom used for Raft commit
// waiting.
type Client struct {
	addr string
	self uint16

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	bus    *msgbus.MsgBus
	reqID  *atomicx.Uint64
	closed *atomicx.Bool
	stopc  chan struct{}
	wg     sync.WaitGroup
}

// Dial opens a Client to addr. The connection is established lazily on
// first use if the initial dial fails; callers should treat dial
// failures as transient.
func Dial(addr string, self uint16) *Client {
	c := &Client{
		addr:   addr,
		self:   self,
		bus:    msgbus.New(),
		reqID:  atomicx.NewUint64(),
		closed: atomicx.NewBool(),
		stopc:  make(chan struct{}),
	}
	c.connect()
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Client) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		log.Warnf("rpc: dial %s: %v", c.addr, err)
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
}

func (c *Client) currentConn() (net.Conn, *bufio.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.reader
}

// Call sends a request and blocks for its matching response or until
// timeout elapses, returning StatusTimeout on expiry (spec §4.7).
func (c *Client) Call(ctx context.Context, funcID uint8, req []byte, timeout time.Duration) ([]byte, Status, error) {
	if c.closed.True() {
		return nil, StatusError, fmt.Errorf("rpc: client to %s closed", c.addr)
	}

	id := uint32(c.reqID.Add(1))
	sub := c.bus.SubscribeOnce(uint64(id))
	defer sub.Unsubscribe()

	if err := c.write(Frame{RequestID: id, SenderID: c.self, Type: FrameRequest, FuncID: funcID, Payload: req}); err != nil {
		return nil, StatusError, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case v := <-sub.Chan():
		f := v.(Frame)
		return f.Payload, f.Status, nil
	case <-ctx.Done():
		return nil, StatusTimeout, ctx.Err()
	}
}

// Send writes a request without waiting for a response.
func (c *Client) Send(funcID uint8, req []byte) error {
	if c.closed.True() {
		return fmt.Errorf("rpc: client to %s closed", c.addr)
	}
	id := uint32(c.reqID.Add(1))
	return c.write(Frame{RequestID: id, SenderID: c.self, Type: FrameRequest, FuncID: funcID, Payload: req})
}

func (c *Client) write(f Frame) error {
	conn, _ := c.currentConn()
	if conn == nil {
		c.connect()
		conn, _ = c.currentConn()
		if conn == nil {
			return fmt.Errorf("rpc: no connection to %s", c.addr)
		}
	}

	buf := Encode(f)
	if _, err := conn.Write(buf); err != nil {
		c.invalidate()
		return err
	}
	return nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	backoff := 200 * time.Millisecond

	for {
		select {
		case <-c.stopc:
			return
		default:
		}

		_, reader := c.currentConn()
		if reader == nil {
			select {
			case <-time.After(backoff):
			case <-c.stopc:
				return
			}
			c.connect()
			continue
		}

		buf, err := wire.ReadFrame(reader, HeaderSize)
		if err != nil {
			c.invalidate()
			continue
		}

		f, err := Decode(buf)
		if err != nil {
			continue
		}

		if f.Type == FrameResponse {
			c.bus.Broadcast(uint64(f.RequestID), f)
		}
	}
}

// Close stops the read loop and releases the connection.
func (c *Client) Close() error {
	if c.closed.True() {
		return nil
	}
	c.closed.Set()
	close(c.stopc)
	c.invalidate()
	c.wg.Wait()
	return c.bus.Close()
}
