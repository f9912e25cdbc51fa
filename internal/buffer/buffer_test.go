package buffer

import (
	"bytes"
	"testing"
)

func TestFreeDoublesCapacity(t *testing.T) {
	t.Parallel()

	b := New(16)
	b.Write(bytes.Repeat([]byte("a"), 16))
	if got := b.Cap(); got != 16 {
		t.Fatalf("Cap() = %d, want 16", got)
	}

	b.Free(1)
	if got := b.Cap(); got != 32 {
		t.Errorf("Cap() after grow = %d, want 32", got)
	}

	b.Free(100)
	if got := b.Cap(); got != 128 {
		t.Errorf("Cap() after large grow = %d, want 128", got)
	}
	if got := b.Len(); got != 16 {
		t.Errorf("Len() = %d, want 16", got)
	}
}

func TestFreeReclaimsConsumedHead(t *testing.T) {
	t.Parallel()

	b := New(8)
	b.WriteString("abcdefgh")
	b.Consume(6)

	dst := b.Free(4)
	if len(dst) < 4 {
		t.Fatalf("len(Free(4)) = %d", len(dst))
	}
	if got := b.Cap(); got != 8 {
		t.Errorf("Cap() = %d, want 8 (head reclaimed instead of growing)", got)
	}
	if got := string(b.Bytes()); got != "gh" {
		t.Errorf("Bytes() = %q, want %q", got, "gh")
	}
}

func TestCommitAndConsume(t *testing.T) {
	t.Parallel()

	b := New(0)
	dst := b.Free(5)
	copy(dst, "hello")
	b.Commit(5)
	if got := string(b.Bytes()); got != "hello" {
		t.Fatalf("Bytes() = %q", got)
	}

	b.Consume(2)
	if got := string(b.Bytes()); got != "llo" {
		t.Errorf("Bytes() after consume = %q, want %q", got, "llo")
	}

	b.Consume(10)
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		max      int
		wantLine string
		wantN    int
		wantErr  error
	}{
		{name: "lf", input: "PING\nrest", max: 64, wantLine: "PING", wantN: 5},
		{name: "crlf", input: "PING\r\n", max: 64, wantLine: "PING", wantN: 6},
		{name: "incomplete", input: "PIN", max: 64},
		{name: "empty line", input: "\n", max: 64, wantLine: "", wantN: 1},
		{name: "too long", input: "0123456789", max: 4, wantErr: ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(0)
			b.WriteString(tt.input)
			line, n, err := b.Line(tt.max)
			if err != tt.wantErr {
				t.Fatalf("Line() err = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Errorf("Line() n = %d, want %d", n, tt.wantN)
			}
			if string(line) != tt.wantLine {
				t.Errorf("Line() = %q, want %q", line, tt.wantLine)
			}
		})
	}
}
