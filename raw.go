package chitocomet

import (
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/jsontree"
)

// Priority selects the outbox tier of a raw. High raws are flushed before
// low ones.
type Priority = rawpool.Priority

const (
	PriorityLow  = rawpool.Low
	PriorityHigh = rawpool.High
)

// RawStats counts the messages of the raw pool
type RawStats = rawpool.Stats

// forge serializes one raw into a pooled message. The caller owns one
// reference and releases it after posting.
func (s *Server) forge(name string, data *jsontree.Node, prio rawpool.Priority) *rawpool.Message {
	if data == nil {
		data = jsontree.NewObject()
	}
	buf := make([]byte, 0, 64+len(name))
	buf = append(buf, `{"time":"`...)
	buf = strconv.AppendInt(buf, s.now().Unix(), 10)
	buf = append(buf, `","raw":`...)
	buf = jsontree.AppendString(buf, name)
	buf = append(buf, `,"data":`...)
	buf = data.AppendJSON(buf)
	buf = append(buf, '}')
	return s.raws.Get(buf, prio)
}

func (s *Server) postSub(sub *Subuser, m *rawpool.Message) {
	if sub.gone {
		return
	}
	sub.outbox.Push(m)
	s.metrics.RawsQueued.Inc()
	s.markDirty(sub)
}

// postUser queues m on every subuser of u
func (s *Server) postUser(u *User, m *rawpool.Message) {
	for _, sub := range u.subs {
		s.postSub(sub, m)
	}
}

// postUserExcept skips one subuser, typically the one the command came from
func (s *Server) postUserExcept(u *User, except *Subuser, m *rawpool.Message) {
	for _, sub := range u.subs {
		if sub != except {
			s.postSub(sub, m)
		}
	}
}

// postChannel queues m for every member except from
func (s *Server) postChannel(ch *Channel, m *rawpool.Message, from *User) {
	for _, mb := range ch.members {
		if mb.user != from {
			s.postUser(mb.user, m)
		}
	}
}

// PostUser forges a raw and queues it for every subuser of u
func (s *Server) PostUser(u *User, name string, data *jsontree.Node) {
	m := s.forge(name, data, rawpool.Low)
	s.postUser(u, m)
	m.Release()
}

// PostChannel forges a raw and queues it for every member of ch
func (s *Server) PostChannel(ch *Channel, name string, data *jsontree.Node) {
	m := s.forge(name, data, rawpool.Low)
	s.postChannel(ch, m, nil)
	m.Release()
}

func (s *Server) markDirty(sub *Subuser) {
	if sub.dirty || sub.conn == nil {
		return
	}
	sub.dirty = true
	s.dirty = append(s.dirty, sub)
}

// flushDirty flushes every subuser that received raws this iteration
func (s *Server) flushDirty() {
	for len(s.dirty) > 0 {
		batch := s.dirty
		s.dirty = nil
		for _, sub := range batch {
			sub.dirty = false
			if !sub.gone {
				s.flush(sub)
			}
		}
	}
}

// flush writes the subuser's queue as one array through its transport
// and applies the transport's after-flush rule
func (s *Server) flush(sub *Subuser) {
	c := sub.conn
	if c == nil || c.Closing() || sub.state != Alive || sub.outbox.Len() == 0 {
		return
	}
	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)
	body.B = append(body.B, '[')
	n := sub.outbox.Drain(func(m *rawpool.Message) {
		if len(body.B) > 1 {
			body.B = append(body.B, ',')
		}
		body.B = append(body.B, m.Bytes()...)
	})
	body.B = append(body.B, ']')
	s.send(c, sub.adapter, body.B)
	s.metrics.RawsFlushed.Add(float64(n))
	sub.idle = s.now()

	if !sub.adapter.Properties().Persistent {
		s.doDied(sub)
	}
}

// send writes body through a, preceded by the response head the first
// time the connection carries anything
func (s *Server) send(c *Conn, a transport.Adapter, body []byte) {
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	if !c.headersSent {
		out.B = append(out.B, a.Preamble()...)
		c.headersSent = true
	}
	out.B = a.Encode(out.B, body)
	c.Write(out.B)
}

// writeRaw forges one raw and writes it straight to c, bypassing queues
func (s *Server) writeRaw(c *Conn, a transport.Adapter, name string, data *jsontree.Node) {
	if c.Closing() {
		return
	}
	m := s.forge(name, data, rawpool.High)
	body := make([]byte, 0, m.Len()+2)
	body = append(body, '[')
	body = append(body, m.Bytes()...)
	body = append(body, ']')
	m.Release()
	s.send(c, a, body)
}

// doDied ends a non-persistent response: the subuser waits for the next request
func (s *Server) doDied(sub *Subuser) {
	sub.state = Died
	s.detach(sub)
}

// Flush writes u's queued raws right away instead of at the end of the iteration
func (s *Server) Flush(u *User) {
	for _, sub := range u.subs {
		s.flush(sub)
	}
}
