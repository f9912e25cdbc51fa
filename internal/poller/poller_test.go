//go:build unix

package poller

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() error = %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func backends(t *testing.T) map[string]Poller {
	t.Helper()
	out := make(map[string]Poller)
	for _, name := range []string{BackendEpoll, BackendPoll} {
		p, err := New(name, 4)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		t.Cleanup(func() { p.Close() })
		out[name] = p
	}
	return out
}

func findFD(p Poller, n, fd int) (Event, bool) {
	for i := 0; i < n; i++ {
		if p.FD(i) == fd {
			return p.Revent(i), true
		}
	}
	return 0, false
}

func TestPollReportsReadable(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			if err := p.Add(a, Read); err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			n, err := p.Poll(0)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if _, ok := findFD(p, n, a); ok {
				t.Fatalf("fd %d ready before any write", a)
			}

			if _, err := unix.Write(b, []byte("x")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			n, err = p.Poll(100)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			ev, ok := findFD(p, n, a)
			if !ok {
				t.Fatalf("fd %d not reported", a)
			}
			if ev&Read == 0 {
				t.Errorf("Revent() = %v, want read", ev)
			}
		})
	}
}

func TestModifyTogglesWriteInterest(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := socketPair(t)
			if err := p.Add(a, Read); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			n, _ := p.Poll(0)
			if _, ok := findFD(p, n, a); ok {
				t.Fatalf("idle fd reported without write interest")
			}

			if err := p.Modify(a, Read|Write); err != nil {
				t.Fatalf("Modify() error = %v", err)
			}
			n, _ = p.Poll(100)
			ev, ok := findFD(p, n, a)
			if !ok || ev&Write == 0 {
				t.Errorf("Revent() = %v (reported %v), want write", ev, ok)
			}

			if err := p.Modify(a, Read); err != nil {
				t.Fatalf("Modify() error = %v", err)
			}
			n, _ = p.Poll(0)
			if _, ok := findFD(p, n, a); ok {
				t.Errorf("fd still reported after write interest dropped")
			}
		})
	}
}

func TestHangupSurfacesAsRead(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer unix.Close(fds[0])
			p.Add(fds[0], Read)
			unix.Close(fds[1])

			n, err := p.Poll(100)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			ev, ok := findFD(p, n, fds[0])
			if !ok || ev&Read == 0 {
				t.Errorf("Revent() = %v (reported %v), want read on hang-up", ev, ok)
			}
		})
	}
}

func TestRemoveAndReload(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			c, d := socketPair(t)
			p.Add(a, Read)
			p.Add(c, Read)

			if err := p.Remove(a); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if err := p.Remove(a); !errors.Is(err, ErrNotRegistered) {
				t.Errorf("second Remove() error = %v, want ErrNotRegistered", err)
			}
			if err := p.Reload(); err != nil {
				t.Fatalf("Reload() error = %v", err)
			}

			unix.Write(b, []byte("x"))
			unix.Write(d, []byte("y"))
			n, _ := p.Poll(100)
			if _, ok := findFD(p, n, a); ok {
				t.Errorf("removed fd reported")
			}
			if _, ok := findFD(p, n, c); !ok {
				t.Errorf("fd lost across Reload")
			}
		})
	}
}

func TestRemoveDuringIteration(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			c, _ := socketPair(t)
			e, f := socketPair(t)
			for _, fd := range []int{a, c, e} {
				if err := p.Add(fd, Read); err != nil {
					t.Fatalf("Add(%d) error = %v", fd, err)
				}
			}
			unix.Write(b, []byte("x"))
			unix.Write(f, []byte("y"))

			n, err := p.Poll(100)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if n != 2 {
				t.Fatalf("Poll() = %d, want 2", n)
			}
			seen := make(map[int]bool)
			for i := 0; i < n; i++ {
				fd := p.FD(i)
				if p.Revent(i)&Read == 0 {
					t.Errorf("Revent(%d) = %v, want read", i, p.Revent(i))
				}
				seen[fd] = true
				if err := p.Remove(fd); err != nil {
					t.Errorf("Remove(%d) error = %v", fd, err)
				}
			}
			if !seen[a] || !seen[e] {
				t.Errorf("reported fds = %v, want %d and %d", seen, a, e)
			}
		})
	}
}

func TestGrow(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			before := p.Capacity()
			p.Grow()
			if got := p.Capacity(); got != before*2 {
				t.Errorf("Capacity() = %d, want %d", got, before*2)
			}
		})
	}
}

func TestNewUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := New("kqueue-ish", 0); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("New() error = %v, want ErrUnknownBackend", err)
	}
}
