package rpc

import (
	"encoding/binary"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/meshraft/meshraft/internal/atomicx"
	"github.com/meshraft/meshraft/internal/log"
)

// maxEvents bounds a single epoll_wait batch.
const maxEvents = 64

// readBufSize is the per-connection scratch buffer grown from.
const readBufSize = 4096

// conn is one accepted, non-blocking connection and its partial read
// state: frames may arrive split across several epoll-readable events.
type conn struct {
	fd  int
	buf []byte // bytes read so far, possibly spanning multiple frames
}

// Server is a readiness-driven (epoll, edge-triggered) TCP RPC server
// (spec §4.7): one listen socket plus one accepted socket per
// connection, each with its own receive buffer; decoded frames
// dispatch synchronously to the Registry and the response is framed
// back on the same connection.
type Server struct {
	registry *Registry
	self     uint16

	epfd     int
	listenFD int

	mu    sync.Mutex
	conns map[int]*conn

	closed *atomicx.Bool
	stopc  chan struct{}
	donec  chan struct{}
}

// NewServer builds a Server bound to addr (host:port), dispatching
// through registry, and identifying itself as self in response frames.
func NewServer(addr string, self uint16, registry *Registry) (*Server, error) {
	sa, err := resolveTCP4(addr)
	if err != nil {
		return nil, err
	}

	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(lfd)
		return nil, err
	}

	if err := unix.Bind(lfd, sa); err != nil {
		unix.Close(lfd)
		return nil, err
	}

	if err := unix.Listen(lfd, 128); err != nil {
		unix.Close(lfd)
		return nil, err
	}

	if err := unix.SetNonblock(lfd, true); err != nil {
		unix.Close(lfd)
		return nil, err
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(lfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(lfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &ev); err != nil {
		unix.Close(lfd)
		unix.Close(epfd)
		return nil, err
	}

	return &Server{
		registry: registry,
		self:     self,
		epfd:     epfd,
		listenFD: lfd,
		conns:    make(map[int]*conn),
		closed:   atomicx.NewBool(),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
	}, nil
}

// Serve runs the event loop until Close. It returns when the loop
// exits.
func (s *Server) Serve() {
	defer close(s.donec)
	events := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-s.stopc:
			return
		default:
		}

		n, err := unix.EpollWait(s.epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if s.closed.True() {
				return
			}
			log.Warnf("rpc: epoll_wait: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.listenFD {
				s.acceptAll()
				continue
			}
			s.readReady(fd)
		}
	}
}

// Close stops the event loop and releases every socket.
func (s *Server) Close() error {
	if s.closed.True() {
		return nil
	}
	s.closed.Set()
	close(s.stopc)
	<-s.donec

	s.mu.Lock()
	for fd := range s.conns {
		unix.Close(fd)
	}
	s.conns = nil
	s.mu.Unlock()

	unix.Close(s.listenFD)
	return unix.Close(s.epfd)
}

func (s *Server) acceptAll() {
	for {
		fd, _, err := unix.Accept(s.listenFD)
		if err != nil {
			return // EAGAIN: drained the accept backlog for this event
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(fd)
			continue
		}

		s.mu.Lock()
		s.conns[fd] = &conn{fd: fd}
		s.mu.Unlock()
	}
}

func (s *Server) readReady(fd int) {
	s.mu.Lock()
	c, ok := s.conns[fd]
	s.mu.Unlock()
	if !ok {
		return
	}

	scratch := make([]byte, readBufSize)
	for {
		n, err := unix.Read(fd, scratch)
		if n > 0 {
			c.buf = append(c.buf, scratch[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}

	s.drainFrames(c)
}

func (s *Server) drainFrames(c *conn) {
	for {
		if len(c.buf) < 4 {
			return
		}
		n := binary.BigEndian.Uint32(c.buf[:4])
		if n < HeaderSize {
			s.dropConn(c.fd)
			return
		}
		if uint32(len(c.buf)) < n {
			return // partial frame, wait for more data
		}

		raw := c.buf[:n]
		c.buf = append([]byte(nil), c.buf[n:]...)

		f, err := Decode(raw)
		if err != nil {
			log.Warnf("rpc: decoding frame from fd %d: %v", c.fd, err)
			continue
		}

		s.handleFrame(c, f)
	}
}

func (s *Server) handleFrame(c *conn, f Frame) {
	if f.Type != FrameRequest {
		return
	}

	resp, status, err := s.registry.Dispatch(f.FuncID, f.SenderID, f.Payload)
	if err != nil {
		log.Warnf("rpc: dispatch func %d from %x: %v", f.FuncID, f.SenderID, err)
	}

	out := Encode(Frame{
		RequestID: f.RequestID,
		SenderID:  s.self,
		Type:      FrameResponse,
		Status:    status,
		FuncID:    f.FuncID,
		Payload:   resp,
	})

	if err := writeAll(c.fd, out); err != nil {
		log.Warnf("rpc: writing response to fd %d: %v", c.fd, err)
		s.dropConn(c.fd)
	}
}

// writeAll writes buf to a non-blocking fd in full, looping past
// short writes and EAGAIN/EWOULDBLOCK instead of treating either as
// fatal (the socket is non-blocking and edge-triggered, so a partial
// write is routine, not an error).
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err == nil {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			runtime.Gosched()
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return err
	}
	return nil
}

func (s *Server) dropConn(fd int) {
	s.mu.Lock()
	delete(s.conns, fd)
	s.mu.Unlock()
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
}
