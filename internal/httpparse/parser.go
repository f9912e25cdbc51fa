// Package httpparse is an incremental HTTP/1.x request parser that works
// over a connection's input buffer, picking up where it stopped each time
// more bytes arrive.
package httpparse

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// DefaultMaxContentLength bounds POST bodies
const DefaultMaxContentLength = 51200

// MaxLineLength bounds the request line and every header line
const MaxLineLength = 8192

var (
	ErrMethod        = errors.New("httpparse: unsupported method")
	ErrStartLine     = errors.New("httpparse: malformed request line")
	ErrLineTooLong   = errors.New("httpparse: line too long")
	ErrHeader        = errors.New("httpparse: malformed header")
	ErrMissingHost   = errors.New("httpparse: missing Host header")
	ErrContentLength = errors.New("httpparse: missing or invalid Content-Length")
)

// Method is the request verb
type Method uint8

const (
	MethodGET Method = iota + 1
	MethodPOST
)

func (m Method) String() string {
	switch m {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	}
	return "UNKNOWN"
}

// Status reports parser progress
type Status uint8

const (
	NeedMore Status = iota
	Ready
)

type state uint8

const (
	stateStartLine state = iota
	stateHeaders
	stateBody
	stateDone
)

// Header is one request header in arrival order
type Header struct {
	Name  string
	Value string
}

// Request is a parsed request. Body aliases the caller's buffer and is only
// valid until the caller consumes the bytes.
type Request struct {
	Method        Method
	URI           string
	Proto         string
	Host          string
	Headers       []Header
	ContentLength int
	Body          []byte
}

// Header returns the first value of the named header, case-insensitively
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Path returns the URI without its query string
func (r *Request) Path() string {
	if i := strings.IndexByte(r.URI, '?'); i >= 0 {
		return r.URI[:i]
	}
	return r.URI
}

// RawQuery returns everything after the first '?', still escaped
func (r *Request) RawQuery() string {
	if i := strings.IndexByte(r.URI, '?'); i >= 0 {
		return r.URI[i+1:]
	}
	return ""
}

// TransportDigit returns the leading "/<d>/" path segment, or -1
func (r *Request) TransportDigit() int {
	p := r.Path()
	if len(p) < 2 || p[0] != '/' || p[1] < '0' || p[1] > '9' {
		return -1
	}
	if len(p) > 2 && p[2] != '/' {
		return -1
	}
	return int(p[1] - '0')
}

// Parser holds the resumable state of one request
type Parser struct {
	maxContentLength int
	state            state
	pos              int
	req              Request
	err              error
}

// New returns a parser that accepts POST bodies up to maxContentLength bytes
func New(maxContentLength int) *Parser {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Parser{maxContentLength: maxContentLength}
}

// Feed parses buf, which must start with the first byte of the request and
// hold everything received since. Bytes already examined are not rescanned.
// Once Ready is returned the request is available until Reset.
func (p *Parser) Feed(buf []byte) (Status, error) {
	if p.err != nil {
		return NeedMore, p.err
	}
	for {
		switch p.state {
		case stateDone:
			return Ready, nil

		case stateBody:
			if len(buf)-p.pos < p.req.ContentLength {
				return NeedMore, nil
			}
			p.req.Body = buf[p.pos : p.pos+p.req.ContentLength]
			p.pos += p.req.ContentLength
			p.state = stateDone

		default:
			line, ok, err := p.nextLine(buf)
			if err != nil {
				return NeedMore, p.fail(err)
			}
			if !ok {
				return NeedMore, nil
			}
			if p.state == stateStartLine {
				if err := p.startLine(line); err != nil {
					return NeedMore, p.fail(err)
				}
				p.state = stateHeaders
				continue
			}
			if len(line) == 0 {
				if err := p.endHeaders(); err != nil {
					return NeedMore, p.fail(err)
				}
				continue
			}
			if err := p.header(line); err != nil {
				return NeedMore, p.fail(err)
			}
		}
	}
}

// Request returns the parsed request once Feed reported Ready
func (p *Parser) Request() *Request { return &p.req }

// Consumed is the number of bytes the request occupied
func (p *Parser) Consumed() int { return p.pos }

// Reset rearms the parser for the next request
func (p *Parser) Reset() {
	p.state = stateStartLine
	p.pos = 0
	p.req = Request{}
	p.err = nil
}

func (p *Parser) fail(err error) error {
	p.err = err
	return err
}

func (p *Parser) nextLine(buf []byte) ([]byte, bool, error) {
	rest := buf[p.pos:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		if len(rest) > MaxLineLength {
			return nil, false, ErrLineTooLong
		}
		return nil, false, nil
	}
	if i > MaxLineLength {
		return nil, false, ErrLineTooLong
	}
	line := rest[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	p.pos += i + 1
	return line, true, nil
}

func (p *Parser) startLine(line []byte) error {
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return ErrStartLine
	}
	switch string(line[:sp]) {
	case "GET":
		p.req.Method = MethodGET
	case "POST":
		p.req.Method = MethodPOST
	default:
		return ErrMethod
	}
	rest := line[sp+1:]
	sp = bytes.IndexByte(rest, ' ')
	if sp <= 0 {
		return ErrStartLine
	}
	uri, proto := rest[:sp], rest[sp+1:]
	if uri[0] != '/' || !bytes.HasPrefix(proto, []byte("HTTP/")) {
		return ErrStartLine
	}
	p.req.URI = string(uri)
	p.req.Proto = string(proto)
	return nil
}

func (p *Parser) header(line []byte) error {
	for _, c := range line {
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return ErrHeader
		}
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrHeader
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	p.req.Headers = append(p.req.Headers, Header{Name: name, Value: value})
	if strings.EqualFold(name, "Host") && p.req.Host == "" {
		p.req.Host = value
	}
	return nil
}

func (p *Parser) endHeaders() error {
	if p.req.Host == "" {
		return ErrMissingHost
	}
	if p.req.Method == MethodGET {
		p.state = stateDone
		return nil
	}
	n, err := strconv.Atoi(p.req.Header("Content-Length"))
	if err != nil || n < 1 || n > p.maxContentLength {
		return ErrContentLength
	}
	p.req.ContentLength = n
	p.state = stateBody
	return nil
}
