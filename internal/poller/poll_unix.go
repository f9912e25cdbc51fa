//go:build unix

package poller

import (
	"golang.org/x/sys/unix"
)

// pollset is the portable poll(2) backend. ready is a copy of the entries
// the last Poll reported, so Remove during an iteration leaves it intact.
type pollset struct {
	fds      []unix.PollFd
	index    map[int]int
	ready    []unix.PollFd
	capacity int
}

func newPoll(capacity int) Poller {
	return &pollset{
		index:    make(map[int]int),
		ready:    make([]unix.PollFd, 0, capacity),
		capacity: capacity,
	}
}

func pollMask(ev Event) int16 {
	var mask int16
	if ev&Read != 0 {
		mask |= unix.POLLIN
	}
	if ev&Write != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

func (p *pollset) Add(fd int, ev Event) error {
	if i, ok := p.index[fd]; ok {
		p.fds[i].Events = pollMask(ev)
		return nil
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: pollMask(ev)})
	return nil
}

func (p *pollset) Modify(fd int, ev Event) error {
	i, ok := p.index[fd]
	if !ok {
		return ErrNotRegistered
	}
	p.fds[i].Events = pollMask(ev)
	return nil
}

func (p *pollset) Remove(fd int) error {
	i, ok := p.index[fd]
	if !ok {
		return ErrNotRegistered
	}
	last := len(p.fds) - 1
	if i != last {
		p.fds[i] = p.fds[last]
		p.index[int(p.fds[i].Fd)] = i
	}
	p.fds = p.fds[:last]
	delete(p.index, fd)
	return nil
}

func (p *pollset) Poll(timeoutMs int) (int, error) {
	p.ready = p.ready[:0]
	if len(p.fds) == 0 {
		_, err := unix.Poll(nil, timeoutMs)
		if err != nil && err != unix.EINTR {
			return 0, err
		}
		return 0, nil
	}
	n, err := unix.Poll(p.fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := range p.fds {
		if n == 0 || len(p.ready) == p.capacity {
			break
		}
		if p.fds[i].Revents != 0 {
			p.ready = append(p.ready, p.fds[i])
			n--
		}
	}
	return len(p.ready), nil
}

func (p *pollset) FD(i int) int { return int(p.ready[i].Fd) }

func (p *pollset) Revent(i int) Event {
	var ev Event
	bits := p.ready[i].Revents
	if bits&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		ev |= Read
	}
	if bits&unix.POLLOUT != 0 {
		ev |= Write
	}
	return ev
}

// poll(2) keeps no kernel state
func (p *pollset) Reload() error { return nil }

func (p *pollset) Grow() { p.capacity *= 2 }

func (p *pollset) Capacity() int { return p.capacity }

func (p *pollset) Close() error {
	p.fds = nil
	p.index = make(map[int]int)
	p.ready = p.ready[:0]
	return nil
}

func (p *pollset) Name() string { return BackendPoll }
