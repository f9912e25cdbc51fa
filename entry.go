package chitocomet

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gobwas/ws"

	"github.com/sairash/chitocomet/internal/httpparse"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/internal/wsproto"
)

var (
	errHostTooLong   = errors.New("host header too long")
	errUpgradeKind   = errors.New("websocket variant does not match the transport")
	errUpgradeMethod = errors.New("websocket upgrade on a POST request")
	errOrigin        = errors.New("websocket origin outside the configured domain")
)

// clientConnected arms the HTTP parser of an accepted connection
func (s *Server) clientConnected(c *Conn) {
	c.http = httpparse.New(s.cfg.Server.MaxContentLength)
	c.mode = modeHTTP
}

// serveClient is the stream callback of inbound connections. It returns
// how much of data was used.
func (s *Server) serveClient(c *Conn, data []byte) int {
	switch c.mode {
	case modeHTTP:
		return s.serveHTTP(c, data)
	case modeKey3:
		return s.serveKey3(c, data)
	case modeFrames:
		return s.serveFrames(c, data)
	}
	// one request per connection: anything after it is dropped
	return len(data)
}

func (s *Server) serveHTTP(c *Conn, data []byte) int {
	st, err := c.http.Feed(data)
	if err != nil {
		s.protocolError(c, "http", err)
		return len(data)
	}
	if st != httpparse.Ready {
		return 0
	}
	req := c.http.Request()
	if len(req.Host) > s.cfg.Limits.MaxHostLength {
		s.protocolError(c, "host", errHostTooLong)
		return len(data)
	}
	c.host = req.Host
	c.forwarded = forwardedFor(req.Header("X-Forwarded-For"))
	used := c.http.Consumed()

	digit := req.TransportDigit()
	if strings.EqualFold(req.Header("Upgrade"), "websocket") || digit == int(transport.WebSocket) ||
		digit == int(transport.WebSocketHyBi) {
		return s.upgrade(c, req, digit, data[used:]) + used
	}

	c.mode = modeIdle
	c.kind = transport.FromDigit(digit)
	var payload []byte
	if req.Method == httpparse.MethodPOST {
		payload = append([]byte(nil), req.Body...)
	} else {
		q, err := url.PathUnescape(req.RawQuery())
		if err != nil {
			s.protocolError(c, "query", err)
			return len(data)
		}
		payload = []byte(q)
	}
	c.http = nil
	s.processBatch(c, payload)
	return len(data)
}

// upgrade answers a WebSocket handshake. rest is whatever followed the
// request headers.
func (s *Server) upgrade(c *Conn, req *httpparse.Request, digit int, rest []byte) int {
	if req.Method != httpparse.MethodGET {
		s.protocolError(c, "upgrade", errUpgradeMethod)
		return len(rest)
	}
	v := wsproto.Detect(req.Header("Sec-WebSocket-Key1"), req.Header("Sec-WebSocket-Key2"),
		req.Header("Sec-WebSocket-Key"))
	if digit == int(transport.WebSocketHyBi) && v != wsproto.HyBi ||
		digit == int(transport.WebSocket) && v == wsproto.HyBi {
		s.protocolError(c, "upgrade", errUpgradeKind)
		return len(rest)
	}
	origin := req.Header("Origin")
	if !s.originAllowed(origin) {
		s.protocolError(c, "origin", errOrigin)
		return len(rest)
	}
	protocol := req.Header("Sec-WebSocket-Protocol")
	if protocol == "" {
		protocol = req.Header("WebSocket-Protocol")
	}
	c.version = v
	c.pending = wsproto.HandshakeRequest{
		Host:     req.Host,
		URI:      req.URI,
		Origin:   origin,
		Protocol: protocol,
		Key:      req.Header("Sec-WebSocket-Key"),
		Key1:     req.Header("Sec-WebSocket-Key1"),
		Key2:     req.Header("Sec-WebSocket-Key2"),
		Secure:   strings.EqualFold(req.Header("X-Forwarded-Proto"), "https"),
	}
	c.http = nil
	if v == wsproto.Hixie76 {
		c.mode = modeKey3
		return s.serveKey3(c, rest)
	}
	s.finishHandshake(c)
	if c.Closing() {
		return len(rest)
	}
	return s.serveFrames(c, rest)
}

// originAllowed checks a handshake origin against Server.domain. Browsers
// on the domain itself or any subdomain pass. Clients that send no Origin
// are not browsers and are let through, as is everyone when domain is empty.
func (s *Server) originAllowed(origin string) bool {
	domain := strings.ToLower(s.cfg.Server.Domain)
	if domain == "" || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// serveKey3 waits for the eight bytes a hixie-76 client sends after its headers
func (s *Server) serveKey3(c *Conn, data []byte) int {
	if len(data) < wsproto.Key3Length {
		return 0
	}
	c.pending.Key3 = append([]byte(nil), data[:wsproto.Key3Length]...)
	s.finishHandshake(c)
	if c.Closing() {
		return len(data)
	}
	return wsproto.Key3Length + s.serveFrames(c, data[wsproto.Key3Length:])
}

func (s *Server) finishHandshake(c *Conn) {
	resp, err := wsproto.Response(c.version, c.pending)
	if err != nil {
		s.protocolError(c, "handshake", err)
		return
	}
	c.pending = wsproto.HandshakeRequest{}
	c.codec = wsproto.NewCodec(c.version)
	if c.version.Legacy() {
		c.kind = transport.WebSocket
	} else {
		c.kind = transport.WebSocketHyBi
	}
	c.headersSent = true
	c.mode = modeFrames
	c.Write(resp)
	s.log.Debug("websocket open", "fd", c.fd, "ip", c.ip, "version", c.version.String())
}

// serveFrames decodes every complete frame in data. Each text or binary
// message is one command batch.
func (s *Server) serveFrames(c *Conn, data []byte) int {
	used := 0
	for used < len(data) && !c.Closing() {
		f, n, err := c.codec.Decode(data[used:])
		if err != nil {
			s.protocolError(c, "frame", err)
			return len(data)
		}
		if n == 0 {
			break
		}
		used += n
		switch f.Op {
		case 0, ws.OpPong:
		case ws.OpPing:
			c.Write(c.codec.AppendControl(nil, ws.OpPong, f.Payload))
		case ws.OpClose:
			c.Write(c.codec.AppendControl(nil, ws.OpClose, wsproto.CloseReply(f.Payload)))
			s.wsClosed(c)
			return len(data)
		case ws.OpText, ws.OpBinary:
			s.processBatch(c, f.Payload)
		}
	}
	return used
}

// wsClosed ends a WebSocket whose peer said goodbye. The subuser stays
// for a later reconnect.
func (s *Server) wsClosed(c *Conn) {
	if sub := c.sub; sub != nil && sub.conn == c {
		sub.conn = nil
		sub.state = Died
		c.sub = nil
	}
	c.Shutdown()
}

// protocolError drops a connection that sent something unusable
func (s *Server) protocolError(c *Conn, reason string, err error) {
	s.log.Debug("protocol error", "fd", c.fd, "ip", c.ip, "reason", reason, "err", err)
	s.metrics.ProtocolErrors.WithLabelValues(reason).Inc()
	c.in.Reset()
	c.Shutdown()
}

// clientGone releases the subuser of a closed client connection
func (s *Server) clientGone(c *Conn) {
	if sub := c.sub; sub != nil && sub.conn == c {
		sub.conn = nil
		sub.state = Died
	}
	c.sub = nil
	c.http = nil
	c.codec = nil
}
