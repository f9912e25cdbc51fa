//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epoll is the linux backend
type epoll struct {
	fd       int
	events   []unix.EpollEvent
	interest map[int]Event
}

// creates a new epoll instance
func newEpoll(capacity int) (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epoll{
		fd:       fd,
		events:   make([]unix.EpollEvent, capacity),
		interest: make(map[int]Event),
	}, nil
}

func epollMask(ev Event) uint32 {
	mask := uint32(unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLRDHUP)
	if ev&Read != 0 {
		mask |= unix.EPOLLIN
	}
	if ev&Write != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (e *epoll) ctl(op, fd int, ev Event) error {
	return unix.EpollCtl(e.fd, op, fd, &unix.EpollEvent{
		Events: epollMask(ev),
		Fd:     int32(fd),
	})
}

func (e *epoll) Add(fd int, ev Event) error {
	if err := e.ctl(unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	e.interest[fd] = ev
	return nil
}

func (e *epoll) Modify(fd int, ev Event) error {
	if _, ok := e.interest[fd]; !ok {
		return ErrNotRegistered
	}
	if err := e.ctl(unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	e.interest[fd] = ev
	return nil
}

func (e *epoll) Remove(fd int) error {
	if _, ok := e.interest[fd]; !ok {
		return ErrNotRegistered
	}
	delete(e.interest, fd)
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *epoll) Poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(e.fd, e.events, timeoutMs)
	if err != nil {
		// just retry
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (e *epoll) FD(i int) int { return int(e.events[i].Fd) }

func (e *epoll) Revent(i int) Event {
	var ev Event
	bits := e.events[i].Events
	if bits&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		ev |= Read
	}
	if bits&unix.EPOLLOUT != 0 {
		ev |= Write
	}
	return ev
}

func (e *epoll) Reload() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	unix.Close(e.fd)
	e.fd = fd
	for rfd, ev := range e.interest {
		if err := e.ctl(unix.EPOLL_CTL_ADD, rfd, ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *epoll) Grow() { e.events = make([]unix.EpollEvent, len(e.events)*2) }

func (e *epoll) Capacity() int { return len(e.events) }

// Close releases the epoll descriptor; later calls do nothing
func (e *epoll) Close() error {
	if e.fd < 0 {
		return nil
	}
	fd := e.fd
	e.fd = -1
	return unix.Close(fd)
}

func (e *epoll) Name() string { return BackendEpoll }
