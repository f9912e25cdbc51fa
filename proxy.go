package chitocomet

import (
	"context"
	"encoding/base64"
	"net"
	"time"

	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/jsontree"
)

// proxyResolveTimeout bounds one host name lookup
const proxyResolveTimeout = 10 * time.Second

type proxyState uint8

const (
	proxyResolving proxyState = iota
	proxyConnecting
	proxyConnected
	proxyClosed
)

// Proxy is an outbound TCP socket exposed to users as a pipe
type Proxy struct {
	Pipe *Pipe
	Host string
	Port int

	conn  *Conn
	state proxyState
}

func (p *Proxy) connecting() bool { return p.state != proxyConnected }

// Connected reports whether the socket is up
func (p *Proxy) Connected() bool { return p.state == proxyConnected }

// newProxy creates the pipe and starts resolving host. IP literals are
// dialed right away; names are resolved off the loop and handed back.
func (s *Server) newProxy(host string, port int) (*Proxy, error) {
	p := &Proxy{Host: host, Port: port}
	p.Pipe = s.newPipe(PipeProxy)
	p.Pipe.proxy = p

	if ip := net.ParseIP(host); ip != nil {
		if err := s.proxyDial(p, ip); err != nil {
			s.destroyPipe(p.Pipe)
			return nil, err
		}
		return p, nil
	}
	resolve := s.resolve
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), proxyResolveTimeout)
		defer cancel()
		ip, err := resolve(ctx, host)
		s.Do(func() {
			if p.state == proxyClosed {
				return
			}
			if err == nil {
				err = s.proxyDial(p, ip)
			}
			if err != nil {
				s.log.Debug("proxy failed", "host", host, "port", port, "err", err)
				s.proxyEvent(p, "disconnect", nil)
				s.destroyProxy(p)
			}
		})
	}()
	return p, nil
}

func (s *Server) proxyDial(p *Proxy, ip net.IP) error {
	p.state = proxyConnecting
	c, err := s.dial(ip.String(), p.Port, RoleOutbound, Callbacks{
		OnConnect: func(c *Conn) {
			p.state = proxyConnected
			s.proxyEvent(p, "connect", nil)
		},
		OnLine: func(c *Conn, line []byte) {
			s.proxyEvent(p, "read", line)
		},
		OnDisconnect: func(c *Conn) {
			if p.state == proxyClosed {
				return
			}
			p.conn = nil
			s.proxyEvent(p, "disconnect", nil)
			s.destroyProxy(p)
		},
	})
	if err != nil {
		return err
	}
	c.proxy = p
	p.conn = c
	return nil
}

// proxyEvent posts PROXY_EVENT to every user linked to the proxy
func (s *Server) proxyEvent(p *Proxy, event string, line []byte) {
	data := jsontree.NewObject()
	data.SetString("event", event)
	data.Set("pipe", p.Pipe.object())
	if line != nil {
		data.SetString("data", base64.StdEncoding.EncodeToString(line))
	}
	m := s.forge("PROXY_EVENT", data, rawpool.Low)
	for _, l := range p.Pipe.links {
		if o := l.other(p.Pipe); o.Kind == PipeUser {
			s.postUser(o.user, m)
		}
	}
	m.Release()
}

// destroyProxy closes the socket and removes the pipe, firing unlink callbacks
func (s *Server) destroyProxy(p *Proxy) {
	if p.state == proxyClosed {
		return
	}
	p.state = proxyClosed
	if p.conn != nil {
		p.conn.Shutdown()
		p.conn = nil
	}
	s.destroyPipe(p.Pipe)
}

func cmdProxyConnect(cc *CallContext) Result {
	s := cc.Server
	host, ok := cc.String("host")
	port, pok := cc.Param("port").Int64()
	if !ok || !pok || port < 1 || port > 65535 {
		return ResultBadParams
	}
	p, err := s.newProxy(host, int(port))
	if err != nil {
		s.log.Debug("proxy init failed", "host", host, "port", port, "err", err)
		cc.Fail(ErrProxyInit)
		return ResultOK
	}
	// the proxy lives as long as one user is linked to it
	s.Link(p.Pipe, cc.User.Pipe, func(a, b *Pipe) {
		if len(p.Pipe.links) == 0 {
			s.destroyProxy(p)
		}
	})

	data := jsontree.NewObject()
	data.Set("pipe", p.Pipe.object())
	cc.Reply("PROXY", data, rawpool.Low)
	return ResultOK
}

func cmdProxyWrite(cc *CallContext) Result {
	s := cc.Server
	id, ok := cc.String("pipe")
	encoded, dok := cc.String("data")
	if !ok || !dok {
		return ResultBadParams
	}
	pipe := s.pipes[id]
	if pipe == nil || pipe.Kind != PipeProxy || !s.Linked(pipe, cc.User.Pipe) {
		cc.Fail(ErrUnknownPipe)
		return ResultOK
	}
	p := pipe.proxy
	if !p.Connected() || p.conn == nil {
		cc.Fail(ErrProxyNotConnected)
		return ResultOK
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ResultBadParams
	}
	if err := p.conn.Write(raw); err != nil {
		cc.Fail(ErrProxyNotConnected)
	}
	return ResultOK
}
