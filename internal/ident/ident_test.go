package ident

import "testing"

func TestNewUnique(t *testing.T) {
	t.Parallel()

	const n = 100000
	seen := make(map[string]struct{}, n)
	taken := func(id string) bool {
		_, ok := seen[id]
		return ok
	}
	for i := 0; i < n; i++ {
		id := New(taken)
		if !Valid(id) {
			t.Fatalf("New() = %q, not a valid id", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != n {
		t.Errorf("unique ids = %d, want %d", len(seen), n)
	}
}

func TestNewRetriesOnCollision(t *testing.T) {
	t.Parallel()

	calls := 0
	first := ""
	id := New(func(id string) bool {
		calls++
		if calls == 1 {
			first = id
			return true
		}
		return false
	})
	if calls != 2 {
		t.Fatalf("predicate called %d times, want 2", calls)
	}
	if id == first {
		t.Errorf("New() returned the claimed id")
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"0123456789abcdef0123456789abcdef", true},
		{"0123456789ABCDEF0123456789abcdef", false},
		{"0123456789abcdef", false},
		{"lobby", false},
		{"0123456789abcdef0123456789abcdeg", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
