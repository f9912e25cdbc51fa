// Package ticker runs millisecond timers on a virtual clock that the
// event loop advances by the wall time each iteration took.
package ticker

import "time"

// ID identifies a scheduled timer
type ID uint64

type timer struct {
	id       ID
	deadline int64 // virtual ms
	seq      uint64
	interval int64
	times    int // remaining fires, 0 = forever
	fn       func()
	index    int
}

// ordered by deadline, then by the order timers were scheduled in
func (t *timer) before(o *timer) bool {
	if t.deadline != o.deadline {
		return t.deadline < o.deadline
	}
	return t.seq < o.seq
}

type timerHeap []*timer

func (h timerHeap) swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) push(t *timer) {
	n := len(*h)
	*h = append(*h, t)
	t.index = n
	h.up(n)
}

func (h *timerHeap) pop() *timer {
	n := len(*h) - 1
	h.swap(0, n)
	h.down(0, n)
	t := (*h)[n]
	(*h)[n] = nil
	t.index = -1
	*h = (*h)[:n]
	return t
}

func (h *timerHeap) remove(i int) *timer {
	n := len(*h) - 1
	if n != i {
		h.swap(i, n)
		if !h.down(i, n) {
			h.up(i)
		}
	}
	t := (*h)[n]
	(*h)[n] = nil
	t.index = -1
	*h = (*h)[:n]
	return t
}

func (h timerHeap) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !h[j].before(h[i]) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h timerHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h[j2].before(h[j1]) {
			j = j2
		}
		if !h[j].before(h[i]) {
			break
		}
		h.swap(i, j)
		i = j
	}
	return i > i0
}

// Queue is a timer set. It is owned by one goroutine.
type Queue struct {
	heap   timerHeap
	byID   map[ID]*timer
	now    int64
	accum  time.Duration
	nextID ID
	seq    uint64
}

func New() *Queue {
	return &Queue{byID: make(map[ID]*timer)}
}

// Add schedules fn every interval, times times (0 repeats forever).
// Intervals under a millisecond fire on the next whole millisecond.
func (q *Queue) Add(interval time.Duration, times int, fn func()) ID {
	ms := int64(interval / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	q.nextID++
	q.seq++
	t := &timer{
		id:       q.nextID,
		deadline: q.now + ms,
		seq:      q.seq,
		interval: ms,
		times:    times,
		fn:       fn,
	}
	q.heap.push(t)
	q.byID[t.id] = t
	return t.id
}

// Cancel removes a pending timer
func (q *Queue) Cancel(id ID) bool {
	t, ok := q.byID[id]
	if !ok {
		return false
	}
	delete(q.byID, id)
	if t.index >= 0 {
		q.heap.remove(t.index)
	}
	return true
}

// Len is the number of pending timers
func (q *Queue) Len() int { return len(q.heap) }

// Now is the virtual clock in milliseconds
func (q *Queue) Now() int64 { return q.now }

// Advance moves the virtual clock by elapsed, one whole millisecond at a
// time, and fires every timer that comes due. It returns the fire count.
func (q *Queue) Advance(elapsed time.Duration) int {
	if elapsed < 0 {
		return 0
	}
	q.accum += elapsed
	fired := 0
	for q.accum >= time.Millisecond {
		q.accum -= time.Millisecond
		q.now++
		for len(q.heap) > 0 && q.heap[0].deadline <= q.now {
			t := q.heap.pop()
			if t.times == 1 {
				delete(q.byID, t.id)
			} else {
				if t.times > 1 {
					t.times--
				}
				q.seq++
				t.seq = q.seq
				t.deadline = q.now + t.interval
				q.heap.push(t)
			}
			t.fn()
			fired++
		}
	}
	return fired
}
