//go:build !linux

package poller

func newEpoll(int) (Poller, error) { return nil, ErrUnsupported }
