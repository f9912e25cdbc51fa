package chitocomet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/sairash/chitocomet/config"
	"github.com/sairash/chitocomet/internal/metrics"
	"github.com/sairash/chitocomet/internal/poller"
	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/internal/ticker"
)

// handoffSize bounds how many functions other goroutines can queue for the
// loop before Do blocks
const handoffSize = 1024

// Resolver maps a host name to one address. It runs off the loop goroutine.
type Resolver func(ctx context.Context, host string) (net.IP, error)

func defaultResolver(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("chitocomet: no address for %q", host)
	}
	return ips[0], nil
}

// Server owns every connection, pipe, user, channel and timer. All of its
// state is touched by the goroutine running Run only; other goroutines go
// through Do.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry prometheus.Registerer
	tracer   trace.Tracer
	hooks    Hooks
	resolve  Resolver
	now      func() time.Time

	poller   poller.Poller
	listener *Conn
	addr     net.Addr

	conns    map[int]*Conn
	pipes    map[string]*Pipe
	sessions map[string]*User
	channels map[string]*Channel
	commands map[string]command

	timers     *ticker.Queue
	raws       *rawpool.Pool
	sweepTimer ticker.ID

	dirty  []*Subuser
	doomed []*Conn

	handoff chan func()
	done    chan struct{}
}

// Option configures a Server
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegisterer registers the server's collectors in r instead of a
// private registry
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Server) { s.registry = r }
}

func WithHooks(h Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithResolver replaces the DNS lookup used by proxies
func WithResolver(r Resolver) Option {
	return func(s *Server) { s.resolve = r }
}

// WithClock replaces the wall clock used for idle stamps, raw times and bans
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New builds a server from cfg. Nothing is bound until Listen or Run.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		log:      slog.Default(),
		resolve:  defaultResolver,
		now:      time.Now,
		conns:    make(map[int]*Conn),
		pipes:    make(map[string]*Pipe),
		sessions: make(map[string]*User),
		channels: make(map[string]*Channel),
		commands: make(map[string]command),
		timers:   ticker.New(),
		raws:     rawpool.NewPool(),
		handoff:  make(chan func(), handoffSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/sairash/chitocomet")
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.New(metrics.WithRegistry(s.registry))

	p, err := poller.New(cfg.Server.Backend, poller.DefaultCapacity)
	if err != nil {
		return nil, fmt.Errorf("chitocomet: poller: %w", err)
	}
	s.poller = p
	s.registerBuiltins()
	return s, nil
}

// Config returns the configuration the server was built with
func (s *Server) Config() config.Config { return s.cfg }

func (s *Server) Logger() *slog.Logger { return s.log }

// Registry is where the server's collectors live
func (s *Server) Registry() prometheus.Registerer { return s.registry }

// Listen binds the configured address with a non-blocking socket
func (s *Server) Listen() error {
	if s.listener != nil {
		return ErrAlreadyListen
	}
	raiseFileLimit(s.log)

	ip, port, err := splitAddr(s.cfg.Server.Listen)
	if err != nil {
		return err
	}
	sa, domain := sockaddr(ip, port)
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("chitocomet: socket: %w", err)
	}
	fail := func(op string, err error) error {
		unix.Close(fd)
		return fmt.Errorf("chitocomet: %s %s: %w", op, s.cfg.Server.Listen, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("nonblock", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	s.addr = tcpAddr(bound)

	l := s.newConn(fd, RoleListener, "")
	l.cb = s.clientCallbacks()
	if err := s.register(l, poller.Read); err != nil {
		unix.Close(fd)
		return err
	}
	s.listener = l
	s.log.Info("listening", "addr", s.addr.String(), "backend", s.poller.Name())
	return nil
}

// Addr is the bound address, nil before Listen
func (s *Server) Addr() net.Addr { return s.addr }

// Do hands fn to the loop goroutine. It is the only way other goroutines
// may touch server state.
func (s *Server) Do(fn func()) error {
	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	select {
	case s.handoff <- fn:
		return nil
	case <-s.done:
		return ErrServerClosed
	}
}

// Stats is a snapshot of the server's registries
type Stats struct {
	Connections int      `json:"connections"`
	Users       int      `json:"users"`
	Channels    int      `json:"channels"`
	Pipes       int      `json:"pipes"`
	Timers      int      `json:"timers"`
	Raws        RawStats `json:"raws"`
	Backend     string   `json:"backend"`
}

func (s *Server) snapshot() Stats {
	return Stats{
		Connections: len(s.conns),
		Users:       len(s.sessions),
		Channels:    len(s.channels),
		Pipes:       len(s.pipes),
		Timers:      s.timers.Len(),
		Raws:        s.raws.Stats(),
		Backend:     s.poller.Name(),
	}
}

// Stats asks the loop for a snapshot
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if err := s.Do(func() { ch <- s.snapshot() }); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-s.done:
		return Stats{}, ErrServerClosed
	}
}

func splitAddr(addr string) (net.IP, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("chitocomet: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, 0, fmt.Errorf("chitocomet: listen port %q", portStr)
	}
	if host == "" {
		return net.IPv4zero, port, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, 0, fmt.Errorf("chitocomet: listen host %q: %w", host, err)
		}
		ip = ips[0]
	}
	return ip, port, nil
}

func sockaddr(ip net.IP, port int) (unix.Sockaddr, int) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return &net.TCPAddr{}
}

func sockaddrIP(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return ""
}

// raiseFileLimit lifts the open file soft limit to the hard limit
func raiseFileLimit(log *slog.Logger) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Debug("getrlimit failed", "err", err)
		return
	}
	if lim.Cur == lim.Max {
		return
	}
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Debug("setrlimit failed", "err", err)
	}
}
