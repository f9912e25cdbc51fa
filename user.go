package chitocomet

import (
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sairash/chitocomet/internal/ident"
	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/jsontree"
)

// UserFlag marks privileges granted by the embedding program
type UserFlag uint8

const (
	// FlagNoKick users cannot be kicked or banned
	FlagNoKick UserFlag = 1 << iota
	// FlagAutoOp users join channels as operators and may set any level
	FlagAutoOp
)

// User is one logical session, reachable through its pipe from any number
// of subusers
type User struct {
	SessID    string
	Pipe      *Pipe
	IP        string
	Flags     UserFlag
	Transport transport.Kind

	idle     time.Time
	channels []*Channel
	subs     []*Subuser
	lastPing string
	limiter  *rate.Limiter

	session     map[string]string
	sessionSize int
}

// SubuserState tells whether a subuser can take a flush right now
type SubuserState uint8

const (
	Died SubuserState = iota
	Alive
)

// Subuser is one access point of a user, scoped by request host
type Subuser struct {
	User *User
	Host string

	conn       *Conn
	adapter    transport.Adapter
	state      SubuserState
	outbox     rawpool.Outbox
	lastChl    int64
	idle       time.Time
	attachedAt time.Time
	needUpdate bool
	dirty      bool
	gone       bool
}

// Conn is the attached connection, or nil
func (sub *Subuser) Conn() *Conn { return sub.conn }

func (sub *Subuser) State() SubuserState { return sub.state }

// Queued is the number of raws waiting for a flush
func (sub *Subuser) Queued() int { return sub.outbox.Len() }

// Channels the user is on, in join order
func (u *User) Channels() []*Channel { return append([]*Channel(nil), u.channels...) }

func (u *User) Subusers() []*Subuser { return append([]*Subuser(nil), u.subs...) }

func (u *User) subuser(host string) *Subuser {
	for _, sub := range u.subs {
		if sub.Host == host {
			return sub
		}
	}
	return nil
}

// object is the user description carried in raws
func (u *User) object() *jsontree.Node {
	return u.Pipe.object()
}

// User returns the user owning sessid
func (s *Server) User(sessid string) *User { return s.sessions[sessid] }

// UserByPipe resolves a user's public id
func (s *Server) UserByPipe(pubid string) *User {
	p := s.pipes[pubid]
	if p == nil || p.Kind != PipeUser {
		return nil
	}
	return p.user
}

// addUser creates a session for a client at ip
func (s *Server) addUser(ip string, kind transport.Kind) (*User, error) {
	u := &User{
		SessID:    ident.New(s.idTaken),
		IP:        ip,
		Transport: kind,
		idle:      s.now(),
		session:   make(map[string]string),
	}
	if r := s.cfg.Limits.CommandRate; r > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(r), s.cfg.Limits.CommandBurst)
	}
	u.Pipe = s.newPipe(PipeUser)
	u.Pipe.user = u
	if err := s.hooks.userAdded(u); err != nil {
		s.destroyPipe(u.Pipe)
		return nil, err
	}
	s.sessions[u.SessID] = u
	s.metrics.Users.Inc()
	s.log.Debug("user added", "sessid", u.SessID, "ip", ip)
	return u, nil
}

// deleteUser leaves every channel, destroys the pipe and detaches every subuser
func (s *Server) deleteUser(u *User) {
	if _, ok := s.sessions[u.SessID]; !ok {
		return
	}
	s.leftAll(u)
	s.destroyPipe(u.Pipe)
	for len(u.subs) > 0 {
		s.deleteSubuser(u.subs[len(u.subs)-1])
	}
	delete(s.sessions, u.SessID)
	s.metrics.Users.Dec()
	s.hooks.userRemoved(u)
	s.log.Debug("user removed", "sessid", u.SessID)
}

// DeleteUser ends a session
func (s *Server) DeleteUser(u *User) { s.deleteUser(u) }

// addSubuser creates the access point for host. A user that already has
// subusers gets a KING ping so one of them can request an update.
func (s *Server) addSubuser(u *User, host string) *Subuser {
	sub := &Subuser{User: u, Host: host, idle: s.now()}
	if len(u.subs) > 0 {
		sub.needUpdate = true
		s.ping(u)
	}
	u.subs = append(u.subs, sub)
	return sub
}

func (s *Server) deleteSubuser(sub *Subuser) {
	if sub.gone {
		return
	}
	sub.gone = true
	sub.outbox.Clear()
	s.detach(sub)
	u := sub.User
	for i, x := range u.subs {
		if x == sub {
			u.subs = append(u.subs[:i], u.subs[i+1:]...)
			break
		}
	}
}

// ping sends KING with a fresh challenge value to every subuser
func (s *Server) ping(u *User) {
	u.lastPing = ident.New()[:8]
	data := jsontree.NewObject()
	data.SetString("value", u.lastPing)
	m := s.forge("KING", data, rawpool.Low)
	s.postUser(u, m)
	m.Release()
}

// pong answers a KING challenge; a matching value posts UPDATE to sub
func (s *Server) pong(sub *Subuser, value string) bool {
	u := sub.User
	if u.lastPing == "" || value != u.lastPing {
		return false
	}
	u.lastPing = ""
	data := jsontree.NewObject()
	data.SetString("value", value)
	m := s.forge("UPDATE", data, rawpool.Low)
	s.postSub(sub, m)
	m.Release()
	return true
}

// attach binds c to sub following the transport's reconnect policy. It
// returns false when c was turned away as a duplicate listener.
func (s *Server) attach(sub *Subuser, c *Conn) bool {
	if sub.conn == c {
		return true
	}
	if old := sub.conn; old != nil && !old.Closing() {
		if sub.adapter.Properties().Reconnect == transport.KeepExisting {
			s.writeRaw(c, s.adapterFor(c), "CLOSE", nil)
			c.Shutdown()
			return false
		}
		s.writeRaw(old, sub.adapter, "CLOSE", nil)
		s.detach(sub)
		old.Shutdown()
	}
	if c.sub != nil && c.sub != sub {
		s.detach(c.sub)
	}
	sub.conn = c
	sub.adapter = s.adapterFor(c)
	sub.state = Alive
	sub.attachedAt = s.now()
	c.sub = sub
	if sub.outbox.Len() > 0 {
		s.markDirty(sub)
	}
	return true
}

// detach forgets the subuser's connection without closing it
func (s *Server) detach(sub *Subuser) {
	c := sub.conn
	if c == nil {
		return
	}
	sub.conn = nil
	sub.state = Died
	if c.sub == sub {
		c.sub = nil
		if !c.kind.IsWebSocket() || sub.gone {
			c.Shutdown()
		}
	}
}

func (s *Server) adapterFor(c *Conn) transport.Adapter {
	var framer transport.Framer
	if c.codec != nil {
		framer = c.codec
	}
	return transport.New(c.kind, s.cfg.JSONP.Callback, framer)
}

// SetSession stores value under key in the user's session store
func (s *Server) SetSession(u *User, key, value string) error {
	if key == "" || len(key) > s.cfg.Limits.MaxSessionKey {
		return ErrSession
	}
	old, exists := u.session[key]
	size := u.sessionSize + len(value) - len(old)
	if !exists {
		size += len(key)
	}
	if size > s.cfg.Limits.MaxSessionLength {
		return ErrSession
	}
	u.sessionSize = size
	u.session[key] = value
	return nil
}

// Session returns the stored value of key
func (u *User) Session(key string) (string, bool) {
	v, ok := u.session[key]
	return v, ok
}

// sessionObject renders keys (all of them when keys is nil) with missing
// keys as null
func (u *User) sessionObject(keys []string) *jsontree.Node {
	if keys == nil {
		keys = make([]string, 0, len(u.session))
		for k := range u.session {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	obj := jsontree.NewObject()
	for _, k := range keys {
		if v, ok := u.session[k]; ok {
			obj.SetString(k, v)
		} else {
			obj.Set(k, jsontree.NewNull())
		}
	}
	return obj
}

// sendSessions answers subusers waiting for an update with the whole store
func (s *Server) sendSessions(u *User) {
	var m *rawpool.Message
	for _, sub := range u.subs {
		if !sub.needUpdate {
			continue
		}
		if m == nil {
			data := jsontree.NewObject()
			data.Set("sessions", u.sessionObject(nil))
			m = s.forge("SESSIONS", data, rawpool.High)
		}
		sub.needUpdate = false
		s.postSub(sub, m)
	}
	if m != nil {
		m.Release()
	}
}

// clientIP is the address commands are attributed to. Requests relayed by
// a local reverse proxy use its forwarded-for header.
func clientIP(c *Conn) string {
	if c.forwarded != "" {
		if ip := net.ParseIP(c.ip); ip != nil && ip.IsLoopback() {
			return c.forwarded
		}
	}
	return c.ip
}

func forwardedFor(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimSpace(v)
	if net.ParseIP(v) == nil {
		return ""
	}
	return v
}
