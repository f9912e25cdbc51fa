// Package transport describes how each client transport wraps a flush of
// queued raws and what happens to the connection afterwards.
package transport

import (
	"strings"
)

// Kind is a transport selected by the "/<d>/" request path segment
type Kind uint8

const (
	LongPolling Kind = 0
	Streaming   Kind = 1
	JSONP       Kind = 2
	SSE         Kind = 4
	WebSocket   Kind = 6
	// WebSocketHyBi is the modern handshake path; it flushes like WebSocket
	WebSocketHyBi Kind = 7
)

// ReconnectPolicy decides what happens when a second connection attaches
// to a subuser whose current connection is still alive
type ReconnectPolicy uint8

const (
	// Replace shuts the old connection down and attaches the new one
	Replace ReconnectPolicy = iota
	// KeepExisting leaves the old connection as the listener and closes the new one
	KeepExisting
)

// Properties is one row of the transport table
type Properties struct {
	Name        string
	ContentType string
	Left        string
	Right       string
	// Persistent connections stay open after a flush
	Persistent bool
	Reconnect  ReconnectPolicy
	// EscapeJS quotes the body for a single-quoted JavaScript string
	EscapeJS bool
}

var table = map[Kind]Properties{
	LongPolling: {
		Name:        "longpolling",
		ContentType: "application/json; charset=utf-8",
		Reconnect:   Replace,
	},
	Streaming: {
		Name:        "streaming",
		ContentType: "text/plain; charset=utf-8",
		Right:       "\n\n",
		Persistent:  true,
		Reconnect:   KeepExisting,
	},
	JSONP: {
		Name:        "jsonp",
		ContentType: "text/javascript; charset=utf-8",
		Right:       "')",
		Reconnect:   Replace,
		EscapeJS:    true,
	},
	SSE: {
		Name:        "sse",
		ContentType: "text/event-stream; charset=utf-8",
		Left:        "data: ",
		Right:       "\n\n",
		Persistent:  true,
		Reconnect:   KeepExisting,
	},
	WebSocket: {
		Name:       "websocket",
		Persistent: true,
		Reconnect:  Replace,
	},
	WebSocketHyBi: {
		Name:       "websocket",
		Persistent: true,
		Reconnect:  Replace,
	},
}

// FromDigit maps a path digit to a kind. Unknown digits fall back to
// long-polling, which every client understands.
func FromDigit(d int) Kind {
	if d < 0 || d > 9 {
		return LongPolling
	}
	if _, ok := table[Kind(d)]; ok {
		return Kind(d)
	}
	return LongPolling
}

// Lookup returns the table row for k
func Lookup(k Kind) Properties {
	if p, ok := table[k]; ok {
		return p
	}
	return table[LongPolling]
}

func (k Kind) String() string { return Lookup(k).Name }

// IsWebSocket reports whether k is framed rather than HTTP-wrapped
func (k Kind) IsWebSocket() bool { return k == WebSocket || k == WebSocketHyBi }

// Framer wraps a body in a WebSocket frame
type Framer interface {
	AppendFrame(dst, payload []byte) []byte
}

// Adapter binds a kind to the per-connection details its envelope needs
type Adapter struct {
	Kind     Kind
	Callback string
	Framer   Framer
}

// New returns an adapter for k. callback names the JSONP function and
// framer is required for WebSocket kinds.
func New(k Kind, callback string, framer Framer) Adapter {
	return Adapter{Kind: k, Callback: callback, Framer: framer}
}

// Properties returns the table row of the adapter's kind
func (a Adapter) Properties() Properties { return Lookup(a.Kind) }

// Preamble is written once at the start of a response; empty for WebSocket
func (a Adapter) Preamble() []byte {
	if a.Kind.IsWebSocket() {
		return nil
	}
	p := a.Properties()
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Pragma: no-cache\r\n")
	b.WriteString("Cache-Control: no-cache, must-revalidate\r\n")
	b.WriteString("Expires: Thu, 27 Dec 1986 07:30:00 GMT\r\n")
	b.WriteString("Content-Type: " + p.ContentType + "\r\n")
	if !p.Persistent {
		b.WriteString("Connection: close\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Encode appends body wrapped in the transport envelope to dst. It depends
// only on the adapter's fixed fields, so equal inputs give equal outputs.
func (a Adapter) Encode(dst, body []byte) []byte {
	if a.Kind.IsWebSocket() && a.Framer != nil {
		return a.Framer.AppendFrame(dst, body)
	}
	p := a.Properties()
	if a.Kind == JSONP {
		dst = append(dst, a.Callback...)
		dst = append(dst, "('"...)
	}
	dst = append(dst, p.Left...)
	if p.EscapeJS {
		dst = appendJSString(dst, body)
	} else {
		dst = append(dst, body...)
	}
	return append(dst, p.Right...)
}

// appendJSString escapes body for the inside of a single-quoted
// JavaScript literal so the callback receives the exact JSON text
func appendJSString(dst, body []byte) []byte {
	for _, c := range body {
		switch c {
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\'':
			dst = append(dst, '\\', '\'')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '<':
			// keeps "</script>" out of the payload
			dst = append(dst, '\\', 'x', '3', 'c')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
