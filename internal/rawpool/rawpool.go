// Package rawpool holds serialized raws shared between many subuser
// outboxes. A message is reference counted and goes back to its pool
// exactly once, after the last outbox that held it has been drained.
package rawpool

// Priority selects the outbox tier
type Priority uint8

const (
	Low Priority = iota
	High
)

// SlabSize is how many messages a pool allocates at a time
const SlabSize = 64

// Message is one serialized raw
type Message struct {
	data     []byte
	priority Priority
	refs     int32
	pool     *Pool
	free     bool
}

// Bytes returns the serialized raw
func (m *Message) Bytes() []byte { return m.data }

func (m *Message) Len() int { return len(m.data) }

func (m *Message) Priority() Priority { return m.priority }

// Refs is the current reference count
func (m *Message) Refs() int32 { return m.refs }

// Retain adds a reference
func (m *Message) Retain() {
	if m.free {
		panic("rawpool: retain of freed message")
	}
	m.refs++
}

// Release drops a reference and returns the message to its pool when it
// was the last one
func (m *Message) Release() {
	if m.free || m.refs <= 0 {
		panic("rawpool: release of freed message")
	}
	m.refs--
	if m.refs == 0 {
		m.pool.put(m)
	}
}

// Stats counts messages handed out and reclaimed
type Stats struct {
	Allocated int    `json:"allocated"`
	Live      int    `json:"live"`
	Freed     uint64 `json:"freed"`
}

// Pool recycles Message structs from slabs. It is not safe for
// concurrent use; the event loop owns it.
type Pool struct {
	free      []*Message
	allocated int
	live      int
	freed     uint64
}

func NewPool() *Pool { return &Pool{} }

// Get returns a message holding data with one reference owned by the caller
func (p *Pool) Get(data []byte, prio Priority) *Message {
	if len(p.free) == 0 {
		p.grow()
	}
	m := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	m.data = data
	m.priority = prio
	m.refs = 1
	m.free = false
	p.live++
	return m
}

func (p *Pool) grow() {
	slab := make([]Message, SlabSize)
	for i := range slab {
		slab[i].pool = p
		slab[i].free = true
		p.free = append(p.free, &slab[i])
	}
	p.allocated += SlabSize
}

func (p *Pool) put(m *Message) {
	m.data = nil
	m.free = true
	p.live--
	p.freed++
	p.free = append(p.free, m)
}

func (p *Pool) Stats() Stats {
	return Stats{Allocated: p.allocated, Live: p.live, Freed: p.freed}
}
