package chitocomet

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/jsontree"
)

// Result flags what the dispatcher does once a handler returns
type Result uint8

const (
	ResultOK Result = 0
	// ResultNull means the caller's user no longer exists
	ResultNull Result = 1 << (iota - 1)
	// ResultLogin means the handler created the caller's user
	ResultLogin
	// ResultBadParams reports BAD_PARAMS and stops the batch
	ResultBadParams
	// ResultUpdateIP records the connection's address as the user's IP
	ResultUpdateIP
)

// Need is what a command requires before its handler runs
type Need uint8

const (
	NeedNothing Need = iota
	// NeedSession commands carry a known sessid and a fresh chl
	NeedSession
)

// Handler serves one command
type Handler interface {
	Serve(cc *CallContext) Result
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(cc *CallContext) Result

func (f HandlerFunc) Serve(cc *CallContext) Result { return f(cc) }

type command struct {
	need Need
	h    Handler
}

// RegisterCommand adds or replaces a command. Call it before Run or from Do.
func (s *Server) RegisterCommand(name string, need Need, h Handler) {
	s.commands[strings.ToUpper(name)] = command{need: need, h: h}
}

// UnregisterCommand removes a command
func (s *Server) UnregisterCommand(name string) bool {
	name = strings.ToUpper(name)
	if _, ok := s.commands[name]; !ok {
		return false
	}
	delete(s.commands, name)
	return true
}

// CallContext is everything a handler knows about the command it serves
type CallContext struct {
	Server *Server
	Conn   *Conn
	// User is nil for NeedNothing commands until the handler logs one in
	User   *User
	Sub    *Subuser
	Cmd    string
	Params *jsontree.Node
	Host   string
	Kind   transport.Kind

	ctx context.Context
}

func (cc *CallContext) Context() context.Context { return cc.ctx }

// Param returns a named parameter, or nil
func (cc *CallContext) Param(name string) *jsontree.Node { return cc.Params.Get(name) }

// String returns a string parameter and whether it was present and non-empty
func (cc *CallContext) String(name string) (string, bool) {
	v, ok := cc.Params.Get(name).Str()
	return v, ok && v != ""
}

// Login binds u to the caller's host scope and attaches the connection
func (cc *CallContext) Login(u *User) {
	cc.User = u
	cc.Sub = cc.Server.addSubuser(u, cc.Host)
	cc.Server.attach(cc.Sub, cc.Conn)
}

// Reply queues a raw for the calling subuser only
func (cc *CallContext) Reply(name string, data *jsontree.Node, prio Priority) {
	if cc.Sub == nil {
		return
	}
	s := cc.Server
	m := s.forge(name, data, prio)
	s.postSub(cc.Sub, m)
	m.Release()
}

// Fail reports f to the caller, as an ERR raw when a session exists
func (cc *CallContext) Fail(f Failure) {
	cc.Server.reject(cc.Conn, cc.Sub, f, nil)
}

// reject reports f on sub when there is one and f belongs to a session,
// otherwise writes it on c and shuts c down. extra is merged into the data.
func (s *Server) reject(c *Conn, sub *Subuser, f Failure, extra *jsontree.Node) {
	data := f.data()
	extra.Each(func(n *jsontree.Node) bool {
		data.Set(n.Key(), n.Clone())
		return true
	})
	if sub != nil && f.Class == ClassSession {
		m := s.forge("ERR", data, rawpool.Low)
		s.postSub(sub, m)
		m.Release()
		return
	}
	s.writeRaw(c, s.adapterFor(c), "ERR", data)
	c.Shutdown()
}

// processBatch parses a command array (a single object also works) and
// dispatches it in order until a command stops the batch
func (s *Server) processBatch(c *Conn, payload []byte) {
	root, err := jsontree.Parse(payload)
	if err != nil {
		s.log.Debug("bad json", "fd", c.fd, "ip", c.ip, "err", err)
		s.reject(c, nil, ErrBadJSON, nil)
		return
	}
	if root.Kind() == jsontree.Object {
		root = jsontree.NewArray().Append(root)
	}
	if root.Kind() != jsontree.Array {
		s.reject(c, nil, ErrBadJSON, nil)
		return
	}
	root.Each(func(env *jsontree.Node) bool {
		if c.closed {
			return false
		}
		return s.dispatch(c, env)
	})

	if c.kind.IsWebSocket() || c.Closing() {
		return
	}
	if c.sub == nil {
		c.Shutdown()
		return
	}
	// persistent responses start streaming as soon as they are attached
	if c.sub.adapter.Properties().Persistent && !c.headersSent {
		c.headersSent = true
		c.Write(c.sub.adapter.Preamble())
	}
}

// dispatch runs one command envelope and reports whether the batch goes on
func (s *Server) dispatch(c *Conn, env *jsontree.Node) bool {
	if env.Kind() != jsontree.Object {
		s.reject(c, c.sub, ErrBadJSON, nil)
		return false
	}
	name, _ := env.Get("cmd").Str()
	name = strings.ToUpper(name)
	cmd, ok := s.commands[name]

	cc := &CallContext{
		Server: s,
		Conn:   c,
		Cmd:    name,
		Params: env.Get("params"),
		Host:   c.host,
		Kind:   c.kind,
	}
	if cc.Params == nil || cc.Params.Kind() != jsontree.Object {
		cc.Params = jsontree.NewObject()
	}

	if !ok || cmd.need == NeedSession {
		sessid, _ := env.Get("sessid").Str()
		if u := s.sessions[sessid]; u != nil {
			cc.User = u
			cc.Sub = u.subuser(c.host)
			if cc.Sub == nil {
				cc.Sub = s.addSubuser(u, c.host)
			}
			s.attach(cc.Sub, c)
		} else if ok {
			s.metrics.Commands.WithLabelValues(name, "bad_sessid").Inc()
			s.reject(c, nil, ErrBadSessID, nil)
			return false
		}
	}
	if !ok {
		s.metrics.Commands.WithLabelValues("unknown", "bad_cmd").Inc()
		s.reject(c, cc.Sub, ErrBadCmd, nil)
		return false
	}

	if cmd.need == NeedSession {
		chl, _ := env.Get("chl").Int64()
		if chl <= cc.Sub.lastChl {
			s.metrics.Commands.WithLabelValues(name, "bad_chl").Inc()
			s.reject(c, cc.Sub, ErrBadChl, nil)
			return false
		}
		cc.Sub.lastChl = chl
		if l := cc.User.limiter; l != nil && !l.AllowN(s.now(), 1) {
			s.metrics.Commands.WithLabelValues(name, "rate_limited").Inc()
			s.reject(c, cc.Sub, ErrRateLimited, nil)
			return false
		}
		cc.User.idle = s.now()
		cc.Sub.idle = cc.User.idle
	}

	res := s.run(cc, cmd.h)

	if res&ResultNull != 0 {
		return false
	}
	if cc.User != nil && res&ResultUpdateIP != 0 {
		cc.User.IP = clientIP(c)
	}
	if res&ResultBadParams != 0 {
		s.reject(c, cc.Sub, ErrBadParams, nil)
		return false
	}
	if cc.User != nil && cc.Sub == nil {
		cc.Sub = cc.User.subuser(c.host)
		if cc.Sub == nil {
			cc.Sub = s.addSubuser(cc.User, c.host)
		}
		s.attach(cc.Sub, c)
	}
	return true
}

// run calls the handler inside a span and records its outcome
func (s *Server) run(cc *CallContext, h Handler) Result {
	ctx, span := s.tracer.Start(context.Background(), "command "+cc.Cmd,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("comet.cmd", cc.Cmd),
			attribute.String("comet.transport", cc.Kind.String()),
		))
	defer span.End()
	cc.ctx = ctx
	if cc.User != nil {
		span.SetAttributes(attribute.String("comet.pubid", cc.User.Pipe.ID))
	}

	start := time.Now()
	res := h.Serve(cc)
	s.metrics.CommandDuration.WithLabelValues(cc.Cmd).Observe(time.Since(start).Seconds())

	status := "ok"
	if res&ResultBadParams != 0 {
		status = "bad_params"
		span.SetStatus(codes.Error, ErrBadParams.Value)
	}
	s.metrics.Commands.WithLabelValues(cc.Cmd, status).Inc()
	return res
}

// failWith reports err through cc. Failures keep their code, anything
// else is logged and reported as BAD_PARAMS.
func (cc *CallContext) failWith(err error) Result {
	f := AsFailure(err)
	if !errors.Is(err, f) {
		cc.Server.log.Debug("command failed", "cmd", cc.Cmd, "err", err)
	}
	trace.SpanFromContext(cc.ctx).SetStatus(codes.Error, f.Value)
	cc.Fail(f)
	return ResultOK
}
