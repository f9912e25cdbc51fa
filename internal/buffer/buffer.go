// Package buffer implements the growable byte buffer every connection reads
// into and queues overflow output in.
package buffer

import "errors"

// DefaultSize is the capacity a zero Buffer grows to on first use
const DefaultSize = 2048

// ErrLineTooLong is returned by Line when max bytes hold no terminator
var ErrLineTooLong = errors.New("buffer: line too long")

// Buffer is a contiguous byte region with a read offset.
// Capacity doubles whenever a reader asks for more room than is left.
type Buffer struct {
	data []byte
	off  int
}

// New returns a buffer with the given initial capacity
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{data: make([]byte, 0, size)}
}

// Bytes returns the unread bytes. The slice is valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.data[b.off:] }

// Len returns the number of unread bytes
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Cap returns the current capacity
func (b *Buffer) Cap() int { return cap(b.data) }

// Free returns at least min bytes of spare tail capacity to read into.
// Consumed head bytes are reclaimed before the buffer grows.
func (b *Buffer) Free(min int) []byte {
	if min <= 0 {
		min = 1
	}
	if cap(b.data)-len(b.data) >= min {
		return b.data[len(b.data):cap(b.data)]
	}
	if b.off > 0 {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
		if cap(b.data)-len(b.data) >= min {
			return b.data[len(b.data):cap(b.data)]
		}
	}
	size := cap(b.data)
	if size == 0 {
		size = DefaultSize
	}
	for size-len(b.data) < min {
		size *= 2
	}
	grown := make([]byte, len(b.data), size)
	copy(grown, b.data)
	b.data = grown
	return b.data[len(b.data):cap(b.data)]
}

// Commit marks n bytes written into the slice returned by Free as readable
func (b *Buffer) Commit(n int) {
	if n < 0 || len(b.data)+n > cap(b.data) {
		panic("buffer: commit out of range")
	}
	b.data = b.data[:len(b.data)+n]
}

// Write appends p, growing the buffer as needed. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	dst := b.Free(len(p))
	n := copy(dst, p)
	b.Commit(n)
	return n, nil
}

// WriteString appends s
func (b *Buffer) WriteString(s string) (int, error) {
	dst := b.Free(len(s))
	n := copy(dst, s)
	b.Commit(n)
	return n, nil
}

// Consume discards the first n unread bytes
func (b *Buffer) Consume(n int) {
	if n >= b.Len() {
		b.Reset()
		return
	}
	b.off += n
}

// Reset empties the buffer and keeps its capacity
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Line returns the first complete line without its terminator and the
// number of bytes it occupied, or n == 0 when no full line is buffered yet.
// A trailing '\r' before '\n' is stripped.
func (b *Buffer) Line(max int) (line []byte, n int, err error) {
	buf := b.Bytes()
	limit := len(buf)
	if max > 0 && limit > max {
		limit = max
	}
	for i := 0; i < limit; i++ {
		if buf[i] != '\n' {
			continue
		}
		line = buf[:i]
		if i > 0 && line[i-1] == '\r' {
			line = line[:i-1]
		}
		return line, i + 1, nil
	}
	if max > 0 && len(buf) >= max {
		return nil, 0, ErrLineTooLong
	}
	return nil, 0, nil
}
