// Package poller is the readiness multiplexer behind the event loop. Both
// backends are level-triggered; callers enable Write interest only while
// they have output queued.
package poller

import (
	"errors"
	"fmt"
)

// Event is a readiness bit set
type Event uint8

const (
	Read Event = 1 << iota
	Write
)

func (e Event) String() string {
	switch e {
	case 0:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read|write"
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// Backend names accepted by New
const (
	BackendAuto  = "auto"
	BackendEpoll = "epoll"
	BackendPoll  = "poll"
)

// DefaultCapacity is the initial number of events one Poll call can report
const DefaultCapacity = 128

var (
	// ErrUnsupported is returned when the requested backend does not exist on this platform
	ErrUnsupported = errors.New("poller: backend not supported on this platform")
	// ErrUnknownBackend is returned for a backend name New does not know
	ErrUnknownBackend = errors.New("poller: unknown backend")
	ErrNotRegistered  = errors.New("poller: fd not registered")
)

// Poller waits for readiness on registered file descriptors.
// After Poll returns n, FD(i) and Revent(i) for i in [0, n) describe the
// ready descriptors. Hang-up and error conditions are reported as Read so
// the reader observes EOF or the socket error.
type Poller interface {
	Add(fd int, ev Event) error
	Modify(fd int, ev Event) error
	Remove(fd int) error
	// Poll blocks up to timeoutMs milliseconds. EINTR yields (0, nil).
	Poll(timeoutMs int) (int, error)
	FD(i int) int
	Revent(i int) Event
	// Reload recreates the kernel object and re-registers every fd
	Reload() error
	// Grow doubles the number of events one Poll call can report
	Grow()
	Capacity() int
	Close() error
	Name() string
}

// New returns the named backend. "auto" or "" picks epoll where it exists.
func New(backend string, capacity int) (Poller, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	switch backend {
	case "", BackendAuto:
		p, err := newEpoll(capacity)
		if errors.Is(err, ErrUnsupported) {
			return newPoll(capacity), nil
		}
		return p, err
	case BackendEpoll:
		return newEpoll(capacity)
	case BackendPoll:
		return newPoll(capacity), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}
