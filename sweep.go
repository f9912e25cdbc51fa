package chitocomet

import "github.com/sairash/chitocomet/internal/rawpool"

// sweep runs every sweep interval. It ends idle users and subusers,
// releases long-poll requests that waited poll_close_sec for nothing and
// flushes anything a subuser still holds.
func (s *Server) sweep() {
	now := s.now()
	timeout := s.cfg.Server.Timeout()
	pollClose := s.cfg.Server.PollClose()

	for _, u := range s.sessions {
		if now.Sub(u.idle) >= timeout {
			s.log.Debug("user timed out", "sessid", u.SessID, "idle", now.Sub(u.idle))
			s.deleteUser(u)
			continue
		}
		for _, sub := range u.Subusers() {
			if now.Sub(sub.idle) >= timeout {
				s.deleteSubuser(sub)
				continue
			}
			if sub.state != Alive || sub.conn == nil {
				continue
			}
			if sub.outbox.Len() > 0 {
				s.flush(sub)
				continue
			}
			if pollClose > 0 && !sub.adapter.Properties().Persistent && now.Sub(sub.attachedAt) >= pollClose {
				m := s.forge("CLOSE", nil, rawpool.Low)
				s.postSub(sub, m)
				m.Release()
				s.flush(sub)
			}
		}
	}
}
