// Package ident mints the 32-character public identifiers used for
// session ids and pipe ids.
package ident

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Length of every identifier
const Length = 32

// New returns a random identifier that none of the taken predicates claim
func New(taken ...func(id string) bool) string {
	for {
		u := uuid.New()
		id := hex.EncodeToString(u[:])
		if !claimed(id, taken) {
			return id
		}
	}
}

func claimed(id string, taken []func(string) bool) bool {
	for _, f := range taken {
		if f(id) {
			return true
		}
	}
	return false
}

// Valid reports whether s has the shape of an identifier
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
