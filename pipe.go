package chitocomet

import (
	"github.com/sairash/chitocomet/internal/ident"
	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/jsontree"
)

// PipeKind is what sits behind a pipe
type PipeKind uint8

const (
	PipeUser PipeKind = iota
	PipeChannel
	PipeProxy
	// PipeCustom hands posted raws to a function
	PipeCustom
)

func (k PipeKind) String() string {
	switch k {
	case PipeUser:
		return "user"
	case PipeChannel:
		return "channel"
	case PipeProxy:
		return "proxy"
	case PipeCustom:
		return "custom"
	}
	return "unknown"
}

// casttype as it appears in pipe objects
func (k PipeKind) casttype() string {
	switch k {
	case PipeUser:
		return "uni"
	case PipeChannel:
		return "multi"
	case PipeProxy:
		return "proxy"
	}
	return "custom"
}

// Pipe is an addressable endpoint with a public id
type Pipe struct {
	ID         string
	Kind       PipeKind
	Properties Properties

	user    *User
	channel *Channel
	proxy   *Proxy
	sink    func(raw []byte)
	links   []*link
}

// User is the user behind a user pipe, or nil
func (p *Pipe) User() *User { return p.user }

// Channel is the channel behind a channel pipe, or nil
func (p *Pipe) Channel() *Channel { return p.channel }

type link struct {
	a, b     *Pipe
	onUnlink func(a, b *Pipe)
	done     bool
}

func (l *link) other(p *Pipe) *Pipe {
	if l.a == p {
		return l.b
	}
	return l.a
}

// Properties is an ordered string-keyed bag exposed in pipe objects
type Properties struct {
	keys []string
	vals map[string]*jsontree.Node
}

// Set stores v under key, keeping the key's original position on update
func (ps *Properties) Set(key string, v *jsontree.Node) {
	if v == nil {
		v = jsontree.NewNull()
	}
	if ps.vals == nil {
		ps.vals = make(map[string]*jsontree.Node)
	}
	if _, ok := ps.vals[key]; !ok {
		ps.keys = append(ps.keys, key)
	}
	ps.vals[key] = v
}

func (ps *Properties) SetString(key, v string) { ps.Set(key, jsontree.NewString(v)) }

func (ps *Properties) Get(key string) *jsontree.Node { return ps.vals[key] }

func (ps *Properties) Delete(key string) {
	if _, ok := ps.vals[key]; !ok {
		return
	}
	delete(ps.vals, key)
	for i, k := range ps.keys {
		if k == key {
			ps.keys = append(ps.keys[:i], ps.keys[i+1:]...)
			break
		}
	}
}

func (ps *Properties) Keys() []string { return append([]string(nil), ps.keys...) }

func (ps *Properties) object() *jsontree.Node {
	obj := jsontree.NewObject()
	for _, k := range ps.keys {
		obj.Set(k, ps.vals[k].Clone())
	}
	return obj
}

// idTaken reports whether id is already a session id or pipe id
func (s *Server) idTaken(id string) bool {
	if _, ok := s.sessions[id]; ok {
		return true
	}
	_, ok := s.pipes[id]
	return ok
}

func (s *Server) newPipe(kind PipeKind) *Pipe {
	p := &Pipe{ID: ident.New(s.idTaken), Kind: kind}
	s.pipes[p.ID] = p
	return p
}

// Pipe looks a pipe up by public id
func (s *Server) Pipe(id string) *Pipe { return s.pipes[id] }

// NewCustomPipe registers a pipe whose posted raws are handed to sink
func (s *Server) NewCustomPipe(sink func(raw []byte)) *Pipe {
	p := s.newPipe(PipeCustom)
	p.sink = sink
	return p
}

// DestroyPipe removes a custom pipe and fires its unlink callbacks
func (s *Server) DestroyPipe(p *Pipe) {
	if p.Kind == PipeCustom {
		s.destroyPipe(p)
	}
}

// destroyPipe fires every link's callback once and forgets the pipe
func (s *Server) destroyPipe(p *Pipe) {
	links := p.links
	p.links = nil
	for _, l := range links {
		o := l.other(p)
		o.links = removeLink(o.links, l)
		if !l.done {
			l.done = true
			if l.onUnlink != nil {
				l.onUnlink(l.a, l.b)
			}
		}
	}
	delete(s.pipes, p.ID)
}

func removeLink(links []*link, l *link) []*link {
	for i, x := range links {
		if x == l {
			return append(links[:i], links[i+1:]...)
		}
	}
	return links
}

// Link ties a and b together. onUnlink runs once when either is destroyed.
func (s *Server) Link(a, b *Pipe, onUnlink func(a, b *Pipe)) {
	if a == b || s.Linked(a, b) {
		return
	}
	l := &link{a: a, b: b, onUnlink: onUnlink}
	a.links = append(a.links, l)
	b.links = append(b.links, l)
}

func (s *Server) Linked(a, b *Pipe) bool {
	for _, l := range a.links {
		if l.other(a) == b {
			return true
		}
	}
	return false
}

// object is the JSON description of a pipe in raws
func (p *Pipe) object() *jsontree.Node {
	obj := jsontree.NewObject()
	obj.SetString("pubid", p.ID)
	obj.SetString("casttype", p.Kind.casttype())
	props := p.Properties.object()
	switch p.Kind {
	case PipeChannel:
		props.SetString("name", p.channel.Name)
	case PipeProxy:
		props.SetString("host", p.proxy.Host)
		props.SetInt("port", int64(p.proxy.Port))
	}
	obj.Set("properties", props)
	return obj
}

// Post forges a raw and posts it to the pipe with the given id
func (s *Server) Post(id, name string, data *jsontree.Node) error {
	p := s.pipes[id]
	if p == nil {
		return ErrUnknownPipe
	}
	m := s.forge(name, data, rawpool.Low)
	s.postPipe(p, m, nil)
	m.Release()
	return nil
}

// postPipe fans m out to whatever is behind p. from is left out of
// channel deliveries.
func (s *Server) postPipe(p *Pipe, m *rawpool.Message, from *User) {
	switch p.Kind {
	case PipeUser:
		s.postUser(p.user, m)
	case PipeChannel:
		s.postChannel(p.channel, m, from)
	case PipeProxy:
		if p.proxy.conn != nil && !p.proxy.connecting() {
			p.proxy.conn.Write(m.Bytes())
		}
	case PipeCustom:
		if p.sink != nil {
			p.sink(m.Bytes())
		}
	}
}
