package chitocomet

// Hooks lets an embedding program observe and veto lifecycle events. They
// run on the loop goroutine. A non-nil error from UserAdded, ChannelCreated,
// Join or Left cancels the operation.
type Hooks struct {
	UserAdded      func(u *User) error
	UserRemoved    func(u *User)
	ChannelCreated func(ch *Channel) error
	ChannelRemoved func(ch *Channel)
	Join           func(u *User, ch *Channel) error
	Left           func(u *User, ch *Channel) error
}

func (h *Hooks) userAdded(u *User) error {
	if h.UserAdded == nil {
		return nil
	}
	return h.UserAdded(u)
}

func (h *Hooks) userRemoved(u *User) {
	if h.UserRemoved != nil {
		h.UserRemoved(u)
	}
}

func (h *Hooks) channelCreated(ch *Channel) error {
	if h.ChannelCreated == nil {
		return nil
	}
	return h.ChannelCreated(ch)
}

func (h *Hooks) channelRemoved(ch *Channel) {
	if h.ChannelRemoved != nil {
		h.ChannelRemoved(ch)
	}
}

func (h *Hooks) join(u *User, ch *Channel) error {
	if h.Join == nil {
		return nil
	}
	return h.Join(u, ch)
}

func (h *Hooks) left(u *User, ch *Channel) error {
	if h.Left == nil {
		return nil
	}
	return h.Left(u, ch)
}
