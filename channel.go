package chitocomet

import (
	"strings"
	"time"

	"github.com/sairash/chitocomet/internal/rawpool"
	"github.com/sairash/chitocomet/jsontree"
)

const (
	// DefaultTopic is given to channels created by JOIN
	DefaultTopic = "Default Topic"
	// OperatorLevel is the level needed to kick, ban and set the topic
	OperatorLevel = 3
	MaxLevel      = 32
	// MaxBanReason bounds the reason of a ban
	MaxBanReason = 255
	// MaxBanMinutes bounds a ban to one month
	MaxBanMinutes = 44640
)

// ChannelFlag changes channel behaviour
type ChannelFlag uint8

const (
	// ChannelNonInteractive channels do not announce joins, leaves or members
	ChannelNonInteractive ChannelFlag = 1 << iota
	// ChannelAutoDestroy channels are removed when their last member leaves
	ChannelAutoDestroy
)

// Channel is a named multicast group
type Channel struct {
	Name  string
	Topic string
	Pipe  *Pipe
	Flags ChannelFlag

	members []*member
	bans    []*Ban
}

type member struct {
	user  *User
	level int
}

// Ban keeps an IP out of a channel until Expire
type Ban struct {
	IP     string
	Reason string
	Expire time.Time
}

func (ch *Channel) Interactive() bool { return ch.Flags&ChannelNonInteractive == 0 }

// Members lists users in join order
func (ch *Channel) Members() []*User {
	users := make([]*User, len(ch.members))
	for i, m := range ch.members {
		users[i] = m.user
	}
	return users
}

// Level is u's level on the channel, 0 when not a member
func (ch *Channel) Level(u *User) int {
	if m := ch.member(u); m != nil {
		return m.level
	}
	return 0
}

func (ch *Channel) member(u *User) *member {
	for _, m := range ch.members {
		if m.user == u {
			return m
		}
	}
	return nil
}

func (ch *Channel) object() *jsontree.Node { return ch.Pipe.object() }

// channelName normalizes name: lower-case, alphanumeric, with an optional
// leading '*'
func (s *Server) channelName(name string) (string, bool) {
	if name == "" || len(name) > s.cfg.Limits.MaxChannelLength {
		return "", false
	}
	name = strings.ToLower(name)
	body := strings.TrimPrefix(name, "*")
	if body == "" {
		return "", false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return name, true
}

// Channel looks a channel up by name, case-insensitively
func (s *Server) Channel(name string) *Channel {
	if len(name) > s.cfg.Limits.MaxChannelLength {
		return nil
	}
	return s.channels[strings.ToLower(name)]
}

// CreateChannel makes a channel that outlives its members. An existing
// channel of that name is returned as is.
func (s *Server) CreateChannel(name, topic string) (*Channel, error) {
	return s.mkchan(name, topic, 0)
}

func (s *Server) mkchan(name, topic string, flags ChannelFlag) (*Channel, error) {
	n, ok := s.channelName(name)
	if !ok {
		return nil, ErrCantJoinChannel
	}
	if ch := s.channels[n]; ch != nil {
		return ch, nil
	}
	if n[0] == '*' {
		flags |= ChannelNonInteractive
	}
	ch := &Channel{Name: n, Topic: topic, Flags: flags}
	ch.Pipe = s.newPipe(PipeChannel)
	ch.Pipe.channel = ch
	if err := s.hooks.channelCreated(ch); err != nil {
		s.destroyPipe(ch.Pipe)
		return nil, err
	}
	s.channels[n] = ch
	s.metrics.Channels.Inc()
	return ch, nil
}

// rmchan removes an empty channel
func (s *Server) rmchan(ch *Channel) {
	if len(ch.members) > 0 || s.channels[ch.Name] != ch {
		return
	}
	ch.bans = nil
	s.destroyPipe(ch.Pipe)
	delete(s.channels, ch.Name)
	s.metrics.Channels.Dec()
	s.hooks.channelRemoved(ch)
}

// RemoveChannel forces every member out and removes the channel
func (s *Server) RemoveChannel(ch *Channel) {
	for len(ch.members) > 0 {
		s.left(ch.members[0].user, ch, true)
	}
	s.rmchan(ch)
}

// Join adds u to ch with the usual announcements
func (s *Server) Join(u *User, ch *Channel) error { return s.join(u, ch) }

func (s *Server) join(u *User, ch *Channel) error {
	if ch.member(u) != nil {
		return ErrAlreadyOnChannel
	}
	if err := s.hooks.join(u, ch); err != nil {
		return err
	}
	level := 1
	if u.Flags&FlagAutoOp != 0 {
		level = OperatorLevel
	}
	ch.members = append(ch.members, &member{user: u, level: level})
	u.channels = append(u.channels, ch)

	if ch.Interactive() {
		data := jsontree.NewObject()
		data.Set("user", u.object())
		data.Set("pipe", ch.object())
		m := s.forge("JOIN", data, rawpool.Low)
		s.postChannel(ch, m, u)
		m.Release()
	}

	data := jsontree.NewObject()
	if ch.Interactive() {
		users := jsontree.NewArray()
		for _, mb := range ch.members {
			obj := mb.user.object()
			obj.SetInt("level", int64(mb.level))
			users.Append(obj)
		}
		data.Set("users", users)
	}
	data.Set("pipe", ch.object())
	m := s.forge("CHANNEL", data, rawpool.Low)
	s.postUser(u, m)
	m.Release()
	return nil
}

// left removes u from ch. Unless forced, the Left hook may refuse.
func (s *Server) left(u *User, ch *Channel, force bool) error {
	if ch.member(u) == nil {
		return ErrNotInChannel
	}
	if err := s.hooks.left(u, ch); err != nil && !force {
		return err
	}
	for i, m := range ch.members {
		if m.user == u {
			ch.members = append(ch.members[:i], ch.members[i+1:]...)
			break
		}
	}
	for i, c := range u.channels {
		if c == ch {
			u.channels = append(u.channels[:i], u.channels[i+1:]...)
			break
		}
	}
	if len(ch.members) > 0 {
		if ch.Interactive() {
			data := jsontree.NewObject()
			data.Set("user", u.object())
			data.Set("pipe", ch.object())
			m := s.forge("LEFT", data, rawpool.Low)
			s.postChannel(ch, m, nil)
			m.Release()
		}
		return nil
	}
	if ch.Flags&ChannelAutoDestroy != 0 {
		s.rmchan(ch)
	}
	return nil
}

// Left removes u from ch, honouring the Left hook
func (s *Server) Left(u *User, ch *Channel) error { return s.left(u, ch, false) }

func (s *Server) leftAll(u *User) {
	for len(u.channels) > 0 {
		s.left(u, u.channels[len(u.channels)-1], true)
	}
}

// setLevel changes target's level. A nil actor is the server itself.
func (s *Server) setLevel(actor, target *User, ch *Channel, level int) error {
	tm := ch.member(target)
	if tm == nil || level < 1 || level > MaxLevel {
		return ErrSetLevel
	}
	if actor != nil {
		am := ch.member(actor)
		if am == nil {
			return ErrSetLevel
		}
		if (am.level < level || am.level < tm.level) && actor.Flags&FlagAutoOp == 0 {
			return ErrSetLevel
		}
	}
	tm.level = level
	if ch.Interactive() {
		data := jsontree.NewObject()
		data.Set("ope", target.object())
		if actor != nil {
			data.Set("opeur", actor.object())
		} else {
			data.Set("opeur", jsontree.NewNull())
		}
		data.SetInt("level", int64(level))
		data.Set("channel", ch.object())
		m := s.forge("SETLEVEL", data, rawpool.Low)
		s.postChannel(ch, m, nil)
		m.Release()
	}
	return nil
}

// SetLevel changes a member's level on behalf of the server
func (s *Server) SetLevel(u *User, ch *Channel, level int) error {
	return s.setLevel(nil, u, ch, level)
}

func (s *Server) setTopic(u *User, ch *Channel, topic string) error {
	m := ch.member(u)
	if m == nil || m.level < OperatorLevel || len(topic) > s.cfg.Limits.MaxTopicLength {
		return ErrSetTopic
	}
	ch.Topic = topic
	data := jsontree.NewObject()
	data.Set("user", u.object())
	data.Set("channel", ch.object())
	data.SetString("topic", topic)
	msg := s.forge("SETTOPIC", data, rawpool.Low)
	s.postChannel(ch, msg, nil)
	msg.Release()
	return nil
}

// operatorAction runs the checks KICK and BAN share. A protected victim
// is told about the attempt with a raw named try.
func (s *Server) operatorAction(actor, victim *User, ch *Channel, denied Failure, try, role string) error {
	am := ch.member(actor)
	if am == nil {
		return ErrNotInChannel
	}
	if am.level < OperatorLevel {
		return denied
	}
	if ch.member(victim) == nil {
		return ErrNotInChannel
	}
	if victim.Flags&FlagNoKick != 0 {
		data := jsontree.NewObject()
		data.Set(role, actor.object())
		data.Set("channel", ch.object())
		m := s.forge(try, data, rawpool.Low)
		s.postUser(victim, m)
		m.Release()
		return ErrUserProtected
	}
	return nil
}

func (s *Server) kick(kicker, victim *User, ch *Channel) error {
	if err := s.operatorAction(kicker, victim, ch, ErrCantKick, "TRY_KICK", "kicker"); err != nil {
		return err
	}
	data := jsontree.NewObject()
	data.Set("kicker", kicker.object())
	data.Set("channel", ch.object())
	m := s.forge("KICK", data, rawpool.Low)
	s.postUser(victim, m)
	m.Release()
	return s.left(victim, ch, true)
}

func (s *Server) ban(banner, victim *User, ch *Channel, reason string, minutes int) error {
	if err := s.operatorAction(banner, victim, ch, ErrCantBan, "TRY_BAN", "banner"); err != nil {
		return err
	}
	if len(reason) > MaxBanReason || minutes > MaxBanMinutes {
		return ErrReasonOrTimeTooLong
	}
	s.Ban(ch, victim.IP, reason, time.Duration(minutes)*time.Minute, banner)
	return nil
}

// Ban keeps ip out of ch for d and removes every member on that IP with a
// BAN raw. banner may be nil.
func (s *Server) Ban(ch *Channel, ip, reason string, d time.Duration, banner *User) {
	ch.bans = append(ch.bans, &Ban{IP: ip, Reason: reason, Expire: s.now().Add(d)})
	for _, u := range ch.Members() {
		if u.IP != ip {
			continue
		}
		data := jsontree.NewObject()
		data.SetString("reason", reason)
		if banner != nil {
			data.Set("banner", banner.object())
		} else {
			data.Set("banner", jsontree.NewNull())
		}
		data.Set("channel", ch.object())
		m := s.forge("BAN", data, rawpool.Low)
		s.postUser(u, m)
		m.Release()
		s.left(u, ch, true)
	}
}

// Banned returns the live ban on ip, pruning expired entries on the way
func (s *Server) Banned(ch *Channel, ip string) *Ban {
	now := s.now()
	var found *Ban
	live := ch.bans[:0]
	for _, b := range ch.bans {
		if !b.Expire.After(now) {
			continue
		}
		live = append(live, b)
		if b.IP == ip && found == nil {
			found = b
		}
	}
	for i := len(live); i < len(ch.bans); i++ {
		ch.bans[i] = nil
	}
	ch.bans = live
	return found
}

// Unban lifts every ban on ip
func (s *Server) Unban(ch *Channel, ip string) {
	live := ch.bans[:0]
	for _, b := range ch.bans {
		if b.IP != ip {
			live = append(live, b)
		}
	}
	for i := len(live); i < len(ch.bans); i++ {
		ch.bans[i] = nil
	}
	ch.bans = live
}
