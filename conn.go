package chitocomet

import (
	"errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sairash/chitocomet/internal/buffer"
	"github.com/sairash/chitocomet/internal/httpparse"
	"github.com/sairash/chitocomet/internal/poller"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/internal/wsproto"
)

// Role is what a connection is for
type Role uint8

const (
	RoleListener Role = iota
	// RoleInbound is an accepted client connection
	RoleInbound
	// RoleOutbound is a proxy socket the server opened
	RoleOutbound
	// RoleDelegate is an outbound socket owned by embedding code through Dial
	RoleDelegate
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleInbound:
		return "inbound"
	case RoleOutbound:
		return "outbound"
	case RoleDelegate:
		return "delegate"
	}
	return "unknown"
}

// Callbacks are invoked on the loop goroutine. When OnLine is set input is
// split on '\n' and OnData is not called; otherwise OnData gets everything
// buffered and returns how many bytes it consumed.
type Callbacks struct {
	OnConnect    func(c *Conn)
	OnData       func(c *Conn, data []byte) int
	OnLine       func(c *Conn, line []byte)
	OnSent       func(c *Conn)
	OnDisconnect func(c *Conn)
}

// readChunk is the least free space offered to one read call
const readChunk = 2048

// entry state of a client connection
type connMode uint8

const (
	modeHTTP connMode = iota
	modeKey3
	modeFrames
	modeIdle
)

// Conn is one socket registered with the loop. A Conn with a negative fd
// is detached from the kernel: writes stay in its output buffer.
type Conn struct {
	srv  *Server
	fd   int
	role Role
	ip   string
	in   *buffer.Buffer
	out  *buffer.Buffer
	cb   Callbacks

	interest   poller.Event
	connecting bool
	shut       bool
	closed     bool
	idle       time.Time

	// Data is free for the owner of a delegate connection
	Data any

	mode        connMode
	http        *httpparse.Parser
	kind        transport.Kind
	codec       wsproto.Codec
	pending     wsproto.HandshakeRequest
	version     wsproto.Version
	host        string
	forwarded   string
	headersSent bool
	sub         *Subuser
	proxy       *Proxy
}

func (s *Server) newConn(fd int, role Role, ip string) *Conn {
	return &Conn{
		srv:  s,
		fd:   fd,
		role: role,
		ip:   ip,
		in:   buffer.New(buffer.DefaultSize),
		out:  buffer.New(0),
		idle: s.now(),
	}
}

func (c *Conn) FD() int { return c.fd }

// IP is the peer address without port
func (c *Conn) IP() string { return c.ip }

func (c *Conn) Role() Role { return c.role }

// Closing reports whether the connection was shut down or closed
func (c *Conn) Closing() bool { return c.shut || c.closed }

// Pending is the number of output bytes not yet accepted by the kernel
func (c *Conn) Pending() int { return c.out.Len() }

// Write sends p, queueing whatever the socket does not take right away.
// A connection whose queue would pass max_output_bytes is dropped.
func (c *Conn) Write(p []byte) error {
	if c.Closing() {
		return ErrConnClosed
	}
	if len(p) == 0 {
		return nil
	}
	s := c.srv
	if c.fd >= 0 && c.out.Len() == 0 && !c.connecting {
		n, err := unix.Write(c.fd, p)
		if n > 0 {
			s.metrics.BytesWritten.Add(float64(n))
			p = p[n:]
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			s.log.Debug("write failed", "fd", c.fd, "ip", c.ip, "err", err)
			s.condemn(c)
			return err
		}
		if len(p) == 0 {
			return nil
		}
	}
	if limit := s.cfg.Server.MaxOutputBytes; limit > 0 && c.fd >= 0 && c.out.Len()+len(p) > limit {
		s.metrics.OverflowDrops.Inc()
		s.log.Warn("output queue overflow", "fd", c.fd, "ip", c.ip, "queued", c.out.Len())
		s.condemn(c)
		return ErrOverflow
	}
	c.out.Write(p)
	if c.fd >= 0 {
		s.want(c, poller.Read|poller.Write)
	}
	return nil
}

// Shutdown closes the connection once its queued output is written
func (c *Conn) Shutdown() {
	if c.Closing() {
		return
	}
	c.shut = true
	if c.fd >= 0 && c.out.Len() > 0 {
		return
	}
	c.srv.condemn(c)
}

// Close drops the connection at the end of the current loop iteration
// without waiting for queued output
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.shut = true
	c.srv.condemn(c)
}

func (s *Server) register(c *Conn, ev poller.Event) error {
	if err := s.poller.Add(c.fd, ev); err != nil {
		return err
	}
	c.interest = ev
	s.conns[c.fd] = c
	s.metrics.Connections.Inc()
	return nil
}

func (s *Server) want(c *Conn, ev poller.Event) {
	if c.interest == ev || c.closed {
		return
	}
	if err := s.poller.Modify(c.fd, ev); err != nil {
		s.log.Debug("poller modify failed", "fd", c.fd, "err", err)
		s.condemn(c)
		return
	}
	c.interest = ev
}

// condemn schedules c to be closed after the current iteration
func (s *Server) condemn(c *Conn) {
	if c.closed {
		return
	}
	c.shut = true
	for _, d := range s.doomed {
		if d == c {
			return
		}
	}
	s.doomed = append(s.doomed, c)
}

func (s *Server) closeConn(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	c.shut = true
	if c.fd >= 0 {
		if err := s.poller.Remove(c.fd); err != nil && !errors.Is(err, poller.ErrNotRegistered) {
			s.log.Debug("poller remove failed", "fd", c.fd, "err", err)
		}
		unix.Close(c.fd)
		delete(s.conns, c.fd)
		s.metrics.Connections.Dec()
		s.metrics.Disconnects.Inc()
	}
	if c.cb.OnDisconnect != nil {
		c.cb.OnDisconnect(c)
	}
}

func (s *Server) closeDoomed() {
	for len(s.doomed) > 0 {
		c := s.doomed[0]
		s.doomed = s.doomed[1:]
		s.closeConn(c)
	}
	s.doomed = s.doomed[:0]
}

// readable drains the socket and hands the input to the callbacks
func (s *Server) readable(c *Conn) {
	if c.role == RoleListener {
		s.accept(c)
		return
	}
	total := 0
	eof := false
	for {
		dst := c.in.Free(readChunk)
		n, err := unix.Read(c.fd, dst)
		if n > 0 {
			c.in.Commit(n)
			total += n
			if n < len(dst) {
				break
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if err != nil {
			s.log.Debug("read failed", "fd", c.fd, "ip", c.ip, "err", err)
		}
		eof = true
		break
	}
	if total > 0 {
		s.metrics.BytesRead.Add(float64(total))
		c.idle = s.now()
		s.deliver(c)
	}
	if eof {
		s.closeConn(c)
	}
}

// deliver runs the line or stream callback over buffered input
func (s *Server) deliver(c *Conn) {
	if c.shut {
		c.in.Reset()
		return
	}
	if c.cb.OnLine != nil {
		for !c.Closing() {
			line, n, err := c.in.Line(s.cfg.Limits.MaxLineLength)
			if err != nil {
				s.protocolError(c, "line", err)
				return
			}
			if n == 0 {
				return
			}
			c.cb.OnLine(c, line)
			c.in.Consume(n)
		}
		return
	}
	if c.cb.OnData != nil && c.in.Len() > 0 {
		n := c.cb.OnData(c, c.in.Bytes())
		c.in.Consume(n)
	}
}

// writable finishes a pending connect, then drains queued output
func (s *Server) writable(c *Conn) {
	if c.connecting {
		errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err == nil && errno != 0 {
			err = unix.Errno(errno)
		}
		if err != nil {
			s.log.Debug("connect failed", "fd", c.fd, "ip", c.ip, "err", err)
			s.condemn(c)
			return
		}
		c.connecting = false
		if c.cb.OnConnect != nil {
			c.cb.OnConnect(c)
		}
	}
	for c.out.Len() > 0 {
		n, err := unix.Write(c.fd, c.out.Bytes())
		if n > 0 {
			c.out.Consume(n)
			s.metrics.BytesWritten.Add(float64(n))
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		s.log.Debug("write failed", "fd", c.fd, "ip", c.ip, "err", err)
		s.condemn(c)
		return
	}
	s.want(c, poller.Read)
	if c.shut {
		s.condemn(c)
		return
	}
	if c.cb.OnSent != nil {
		c.cb.OnSent(c)
	}
}

func (s *Server) accept(l *Conn) {
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if !errors.Is(err, unix.EAGAIN) {
				s.log.Warn("accept failed", "err", err)
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		unix.CloseOnExec(nfd)
		c := s.newConn(nfd, RoleInbound, sockaddrIP(sa))
		c.cb = l.cb
		if err := s.register(c, poller.Read); err != nil {
			s.log.Warn("register failed", "fd", nfd, "err", err)
			unix.Close(nfd)
			continue
		}
		s.metrics.Accepted.Inc()
		if c.cb.OnConnect != nil {
			c.cb.OnConnect(c)
		}
	}
}

// Dial opens a non-blocking connection to addr ("ip:port") owned by cb.
// It must be called on the loop goroutine.
func (s *Server) Dial(addr string, cb Callbacks) (*Conn, error) {
	ip, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}
	return s.dial(ip.String(), port, RoleDelegate, cb)
}

func (s *Server) dial(host string, port int, role Role, cb Callbacks) (*Conn, error) {
	ip, _, err := splitAddr(joinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	sa, domain := sockaddr(ip, port)
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	unix.CloseOnExec(fd)
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, err
	}
	c := s.newConn(fd, role, ip.String())
	c.cb = cb
	c.connecting = err != nil
	ev := poller.Read
	if c.connecting {
		ev |= poller.Write
	}
	if err := s.register(c, ev); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if !c.connecting && cb.OnConnect != nil {
		cb.OnConnect(c)
	}
	return c, nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
