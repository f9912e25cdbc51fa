package chitocomet

import (
	"context"
	"time"

	"github.com/sairash/chitocomet/internal/poller"
)

// Run drives the event loop until ctx is done, then closes every
// connection and user. It binds the listener first if Listen was not called.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.sweepTimer = s.timers.Add(s.cfg.Server.SweepInterval(), 0, s.sweep)
	defer s.teardown()

	timeout := s.cfg.Server.PollTimeoutMs
	if timeout <= 0 {
		timeout = 1
	}
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down", "users", len(s.sessions), "connections", len(s.conns))
			return nil
		default:
		}

		n, err := s.poller.Poll(timeout)
		if err != nil {
			s.metrics.PollErrors.Inc()
			s.log.Warn("poll failed", "backend", s.poller.Name(), "err", err)
			n = 0
		}
		for i := 0; i < n; i++ {
			c, ok := s.conns[s.poller.FD(i)]
			if !ok || c.closed {
				continue
			}
			ev := s.poller.Revent(i)
			if ev&poller.Write != 0 {
				s.writable(c)
			}
			if ev&poller.Read != 0 && !c.closed {
				s.readable(c)
			}
		}
		if n > 0 && n == s.poller.Capacity() {
			s.poller.Grow()
		}
		s.settle()

		now := time.Now()
		s.timers.Advance(now.Sub(last))
		last = now
		s.settle()
	}
}

// settle runs queued handoff functions, flushes dirty subusers and closes
// condemned connections
func (s *Server) settle() {
	for drained := false; !drained; {
		select {
		case fn := <-s.handoff:
			fn()
		default:
			drained = true
		}
	}
	s.flushDirty()
	s.closeDoomed()
}

func (s *Server) teardown() {
	close(s.done)
	s.timers.Cancel(s.sweepTimer)
	for _, u := range s.sessions {
		s.deleteUser(u)
	}
	for _, p := range s.pipes {
		if p.Kind == PipeProxy {
			s.destroyProxy(p.proxy)
		}
	}
	s.flushDirty()
	for _, c := range s.conns {
		s.closeConn(c)
	}
	s.closeDoomed()
	s.listener = nil
	if err := s.poller.Close(); err != nil {
		s.log.Debug("poller close failed", "err", err)
	}
}

// clientCallbacks are inherited by every accepted connection
func (s *Server) clientCallbacks() Callbacks {
	return Callbacks{
		OnConnect:    s.clientConnected,
		OnData:       s.serveClient,
		OnDisconnect: s.clientGone,
	}
}
