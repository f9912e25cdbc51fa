package rawpool

// QueueIncrement is the number of slots a full queue grows by
const QueueIncrement = 32

// Queue is a FIFO of messages over a slot slab
type Queue struct {
	slots []*Message
	head  int
	tail  int
}

func (q *Queue) Len() int { return q.tail - q.head }

// Push appends m without touching its reference count
func (q *Queue) Push(m *Message) {
	if q.tail == len(q.slots) {
		if q.head > 0 {
			n := copy(q.slots, q.slots[q.head:q.tail])
			for i := n; i < q.tail; i++ {
				q.slots[i] = nil
			}
			q.head, q.tail = 0, n
		} else {
			grown := make([]*Message, len(q.slots)+QueueIncrement)
			copy(grown, q.slots)
			q.slots = grown
		}
	}
	q.slots[q.tail] = m
	q.tail++
}

// Pop removes the oldest message, or returns nil
func (q *Queue) Pop() *Message {
	if q.head == q.tail {
		return nil
	}
	m := q.slots[q.head]
	q.slots[q.head] = nil
	q.head++
	if q.head == q.tail {
		q.head, q.tail = 0, 0
	}
	return m
}

// Cap is the slot count allocated so far
func (q *Queue) Cap() int { return len(q.slots) }

// Outbox is a subuser's pair of queues. High-priority raws always leave
// before low-priority ones; each tier is FIFO.
type Outbox struct {
	high Queue
	low  Queue
	size int
}

// Push queues m and takes a reference on it
func (o *Outbox) Push(m *Message) {
	m.Retain()
	if m.priority == High {
		o.high.Push(m)
	} else {
		o.low.Push(m)
	}
	o.size += m.Len()
}

// Len is the number of queued messages
func (o *Outbox) Len() int { return o.high.Len() + o.low.Len() }

// Size is the number of queued bytes
func (o *Outbox) Size() int { return o.size }

// Drain hands every message to fn in delivery order and releases it after
func (o *Outbox) Drain(fn func(m *Message)) int {
	n := 0
	for _, q := range []*Queue{&o.high, &o.low} {
		for m := q.Pop(); m != nil; m = q.Pop() {
			o.size -= m.Len()
			fn(m)
			m.Release()
			n++
		}
	}
	return n
}

// Clear releases everything queued
func (o *Outbox) Clear() int {
	return o.Drain(func(*Message) {})
}
