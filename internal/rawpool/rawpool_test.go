package rawpool

import (
	"fmt"
	"testing"
)

func TestSharedMessageFreedOnce(t *testing.T) {
	t.Parallel()

	p := NewPool()
	m := p.Get([]byte(`{"raw":"DATA"}`), Low)

	boxes := make([]*Outbox, 5)
	for i := range boxes {
		boxes[i] = &Outbox{}
		boxes[i].Push(m)
	}
	m.Release() // creator's reference

	if got := m.Refs(); got != int32(len(boxes)) {
		t.Fatalf("Refs() = %d, want %d", got, len(boxes))
	}

	for i, b := range boxes {
		b.Drain(func(*Message) {})
		freed := p.Stats().Freed
		if i < len(boxes)-1 && freed != 0 {
			t.Fatalf("freed after %d of %d drains", i+1, len(boxes))
		}
	}
	if got := p.Stats().Freed; got != 1 {
		t.Errorf("Freed = %d, want 1", got)
	}
	if got := p.Stats().Live; got != 0 {
		t.Errorf("Live = %d, want 0", got)
	}
}

func TestReleaseOfFreedPanics(t *testing.T) {
	t.Parallel()

	p := NewPool()
	m := p.Get(nil, Low)
	m.Release()

	defer func() {
		if recover() == nil {
			t.Errorf("second Release() did not panic")
		}
	}()
	m.Release()
}

func TestPriorityOrder(t *testing.T) {
	t.Parallel()

	p := NewPool()
	var o Outbox
	post := func(name string, prio Priority) {
		m := p.Get([]byte(name), prio)
		o.Push(m)
		m.Release()
	}
	post("L1", Low)
	post("H1", High)
	post("L2", Low)
	post("H2", High)

	var got []string
	o.Drain(func(m *Message) { got = append(got, string(m.Bytes())) })

	want := []string{"H1", "H2", "L1", "L2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Drain() order = %v, want %v", got, want)
	}
	if o.Len() != 0 || o.Size() != 0 {
		t.Errorf("after Drain Len() = %d Size() = %d", o.Len(), o.Size())
	}
}

func TestQueueGrowsByIncrement(t *testing.T) {
	t.Parallel()

	p := NewPool()
	var q Queue
	for i := 0; i < QueueIncrement+1; i++ {
		q.Push(p.Get(nil, Low))
	}
	if got := q.Cap(); got != 2*QueueIncrement {
		t.Errorf("Cap() = %d, want %d", got, 2*QueueIncrement)
	}

	// popped head slots are reused before growing again
	for i := 0; i < QueueIncrement; i++ {
		q.Pop()
	}
	for i := 0; i < QueueIncrement; i++ {
		q.Push(p.Get(nil, Low))
	}
	if got := q.Cap(); got != 2*QueueIncrement {
		t.Errorf("Cap() after reuse = %d, want %d", got, 2*QueueIncrement)
	}
	if got := q.Len(); got != QueueIncrement+1 {
		t.Errorf("Len() = %d, want %d", got, QueueIncrement+1)
	}
}

func TestPoolReusesSlab(t *testing.T) {
	t.Parallel()

	p := NewPool()
	for i := 0; i < 3*SlabSize; i++ {
		p.Get(nil, Low).Release()
	}
	if got := p.Stats().Allocated; got != SlabSize {
		t.Errorf("Allocated = %d, want %d", got, SlabSize)
	}
	if got := p.Stats().Freed; got != 3*SlabSize {
		t.Errorf("Freed = %d, want %d", got, 3*SlabSize)
	}
}

func TestClearReleases(t *testing.T) {
	t.Parallel()

	p := NewPool()
	var o Outbox
	m := p.Get([]byte("x"), High)
	o.Push(m)
	m.Release()

	if n := o.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if p.Stats().Freed != 1 {
		t.Errorf("Freed = %d, want 1", p.Stats().Freed)
	}
}
