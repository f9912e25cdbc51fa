package chitocomet

import (
	"errors"

	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/internal/transport"
	"github.com/sairash/chitocomet/jsontree"
)

func (s *Server) registerBuiltins() {
	s.RegisterCommand("CONNECT", NeedNothing, HandlerFunc(cmdConnect))
	s.RegisterCommand("CHECK", NeedSession, HandlerFunc(cmdCheck))
	s.RegisterCommand("SEND", NeedSession, HandlerFunc(cmdSend))
	s.RegisterCommand("JOIN", NeedSession, HandlerFunc(cmdJoin))
	s.RegisterCommand("LEFT", NeedSession, HandlerFunc(cmdLeft))
	s.RegisterCommand("SETLEVEL", NeedSession, HandlerFunc(cmdSetLevel))
	s.RegisterCommand("SETTOPIC", NeedSession, HandlerFunc(cmdSetTopic))
	s.RegisterCommand("KICK", NeedSession, HandlerFunc(cmdKick))
	s.RegisterCommand("BAN", NeedSession, HandlerFunc(cmdBan))
	s.RegisterCommand("SESSION", NeedSession, HandlerFunc(cmdSession))
	s.RegisterCommand("KONG", NeedSession, HandlerFunc(cmdKong))
	s.RegisterCommand("QUIT", NeedSession, HandlerFunc(cmdQuit))
	s.RegisterCommand("PROXY_CONNECT", NeedSession, HandlerFunc(cmdProxyConnect))
	s.RegisterCommand("PROXY_WRITE", NeedSession, HandlerFunc(cmdProxyWrite))
}

func cmdConnect(cc *CallContext) Result {
	s := cc.Server
	kind := cc.Kind
	if t, ok := cc.Param("transport").Int64(); ok {
		kind = transport.FromDigit(int(t))
	}
	u, err := s.addUser(clientIP(cc.Conn), kind)
	if err != nil {
		s.log.Info("connect refused", "ip", clientIP(cc.Conn), "err", err)
		cc.Fail(ErrUnknownConnection)
		return ResultOK
	}
	cc.Login(u)

	data := jsontree.NewObject()
	data.SetString("sessid", u.SessID)
	data.Set("user", u.object())
	cc.Reply("LOGIN", data, rawpool.High)
	return ResultLogin | ResultUpdateIP
}

func cmdCheck(cc *CallContext) Result { return ResultOK }

func cmdSend(cc *CallContext) Result {
	s := cc.Server
	target, ok := cc.String("pipe")
	msg := cc.Param("msg")
	if !ok || msg == nil {
		return ResultBadParams
	}
	p := s.pipes[target]
	if p == nil {
		if ch := s.Channel(target); ch != nil {
			p = ch.Pipe
		}
	}
	if p == nil || p.Kind == PipeProxy || p.Kind == PipeChannel && p.channel.member(cc.User) == nil {
		cc.Fail(ErrUnknownPipe)
		return ResultOK
	}

	data := jsontree.NewObject()
	data.Set("msg", msg.Clone())
	data.Set("from", cc.User.object())
	if p.Kind == PipeUser {
		data.Set("pipe", cc.User.object())
	} else {
		data.Set("pipe", p.object())
	}
	m := s.forge("DATA", data, rawpool.Low)
	if p.Kind == PipeUser && p.user == cc.User {
		// the delivery doubles as the echo
		s.postUserExcept(cc.User, cc.Sub, m)
		m.Release()
		return ResultOK
	}
	s.postPipe(p, m, cc.User)
	m.Release()

	// the sender's other subusers see what was sent and to whom
	echo := jsontree.NewObject()
	echo.Set("msg", msg.Clone())
	echo.Set("from", cc.User.object())
	echo.Set("pipe", p.object())
	m = s.forge("DATA", echo, rawpool.Low)
	s.postUserExcept(cc.User, cc.Sub, m)
	m.Release()
	return ResultOK
}

// stringList accepts a JSON array of strings or a single string
func stringList(n *jsontree.Node) []string {
	if n == nil {
		return nil
	}
	if n.Kind() != jsontree.Array {
		if v, ok := n.Str(); ok && v != "" {
			return []string{v}
		}
		return nil
	}
	var out []string
	n.Each(func(c *jsontree.Node) bool {
		if v, ok := c.Str(); ok && v != "" {
			out = append(out, v)
		}
		return true
	})
	return out
}

func cmdJoin(cc *CallContext) Result {
	s := cc.Server
	names := stringList(cc.Param("channels"))
	if len(names) == 0 {
		return ResultBadParams
	}
	u := cc.User
	for _, name := range names {
		ch := s.Channel(name)
		created := false
		if ch == nil {
			var err error
			ch, err = s.mkchan(name, DefaultTopic, ChannelAutoDestroy)
			if err != nil {
				cc.Fail(ErrCantJoinChannel)
				continue
			}
			created = true
		}
		if ch.member(u) != nil {
			cc.Fail(ErrAlreadyOnChannel)
			continue
		}
		if b := s.Banned(ch, u.IP); b != nil {
			extra := jsontree.NewObject()
			extra.SetString("reason", b.Reason)
			s.reject(cc.Conn, cc.Sub, ErrBanned, extra)
			continue
		}
		if err := s.join(u, ch); err != nil {
			if created {
				s.rmchan(ch)
			}
			var f Failure
			if !errors.As(err, &f) {
				f = ErrCantJoinChannel
			}
			cc.Fail(f)
		}
	}
	return ResultOK
}

// channelParam resolves the "channel" parameter, reporting UNKNOWN_CHANNEL
func channelParam(cc *CallContext) (*Channel, Result, bool) {
	name, ok := cc.String("channel")
	if !ok {
		return nil, ResultBadParams, false
	}
	ch := cc.Server.Channel(name)
	if ch == nil {
		cc.Fail(ErrUnknownChannel)
		return nil, ResultOK, false
	}
	return ch, ResultOK, true
}

// userParam resolves the "pubid" parameter, reporting UNKNOWN_USER
func userParam(cc *CallContext) (*User, Result, bool) {
	pubid, ok := cc.String("pubid")
	if !ok {
		return nil, ResultBadParams, false
	}
	u := cc.Server.UserByPipe(pubid)
	if u == nil {
		cc.Fail(ErrUnknownUser)
		return nil, ResultOK, false
	}
	return u, ResultOK, true
}

func cmdLeft(cc *CallContext) Result {
	ch, res, ok := channelParam(cc)
	if !ok {
		return res
	}
	if err := cc.Server.left(cc.User, ch, false); err != nil {
		return cc.failWith(err)
	}
	return ResultOK
}

func cmdSetLevel(cc *CallContext) Result {
	level, ok := cc.Param("level").Int64()
	if !ok {
		return ResultBadParams
	}
	ch, res, ok := channelParam(cc)
	if !ok {
		return res
	}
	target, res, ok := userParam(cc)
	if !ok {
		return res
	}
	if err := cc.Server.setLevel(cc.User, target, ch, int(level)); err != nil {
		return cc.failWith(err)
	}
	return ResultOK
}

func cmdSetTopic(cc *CallContext) Result {
	topic, present := cc.Param("topic").Str()
	if !present {
		return ResultBadParams
	}
	ch, res, ok := channelParam(cc)
	if !ok {
		return res
	}
	if err := cc.Server.setTopic(cc.User, ch, topic); err != nil {
		return cc.failWith(err)
	}
	return ResultOK
}

func cmdKick(cc *CallContext) Result {
	ch, res, ok := channelParam(cc)
	if !ok {
		return res
	}
	victim, res, ok := userParam(cc)
	if !ok {
		return res
	}
	if err := cc.Server.kick(cc.User, victim, ch); err != nil {
		return cc.failWith(err)
	}
	return ResultOK
}

func cmdBan(cc *CallContext) Result {
	expire, ok := cc.Param("expire").Int64()
	if !ok || expire < 1 {
		return ResultBadParams
	}
	reason, _ := cc.Param("reason").Str()
	ch, res, ok := channelParam(cc)
	if !ok {
		return res
	}
	victim, res, ok := userParam(cc)
	if !ok {
		return res
	}
	if err := cc.Server.ban(cc.User, victim, ch, reason, int(expire)); err != nil {
		return cc.failWith(err)
	}
	return ResultOK
}

func cmdSession(cc *CallContext) Result {
	s := cc.Server
	u := cc.User
	action, _ := cc.String("action")
	switch action {
	case "set":
		key, ok := cc.String("key")
		value, present := cc.Param("value").Str()
		if !ok || !present {
			cc.Fail(ErrSessionParams)
			return ResultOK
		}
		if err := s.SetSession(u, key, value); err != nil {
			return cc.failWith(err)
		}
		if cc.Param("update").Truthy() {
			cc.Sub.needUpdate = false
			s.sendSessions(u)
		}
	case "get":
		keys := stringList(cc.Param("keys"))
		if len(keys) == 0 {
			keys = stringList(cc.Param("key"))
		}
		if len(keys) == 0 {
			cc.Fail(ErrSessionParams)
			return ResultOK
		}
		data := jsontree.NewObject()
		data.Set("sessions", u.sessionObject(keys))
		cc.Reply("SESSIONS", data, rawpool.High)
	default:
		cc.Fail(ErrSessionParams)
	}
	return ResultOK
}

func cmdKong(cc *CallContext) Result {
	value, ok := cc.String("value")
	if !ok {
		return ResultBadParams
	}
	cc.Server.pong(cc.Sub, value)
	return ResultOK
}

func cmdQuit(cc *CallContext) Result {
	s := cc.Server
	s.writeRaw(cc.Conn, s.adapterFor(cc.Conn), "QUIT", nil)
	s.deleteUser(cc.User)
	cc.User, cc.Sub = nil, nil
	return ResultNull
}
