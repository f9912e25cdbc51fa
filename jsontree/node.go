// Package jsontree is the generic JSON tree commands arrive as and raws are
// built from. Objects keep their keys in insertion order.
package jsontree

import (
	"math"
	"sort"
	"strconv"
)

// Kind is the type of a node
type Kind uint8

const (
	Null Kind = iota
	Object
	Array
	String
	Integer
	Float
	Bool
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Object:
		return "object"
	case Array:
		return "array"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "bool"
	}
	return "invalid"
}

// Node is one value. Children form a singly linked list through next,
// and every child points back at its parent.
type Node struct {
	kind  Kind
	key   string
	keyed bool

	str string
	num int64
	flt float64
	b   bool

	parent *Node
	first  *Node
	last   *Node
	next   *Node
	n      int
}

func NewObject() *Node        { return &Node{kind: Object} }
func NewArray() *Node         { return &Node{kind: Array} }
func NewString(s string) *Node { return &Node{kind: String, str: s} }
func NewInt(v int64) *Node    { return &Node{kind: Integer, num: v} }
func NewFloat(v float64) *Node { return &Node{kind: Float, flt: v} }
func NewBool(v bool) *Node    { return &Node{kind: Bool, b: v} }
func NewNull() *Node          { return &Node{kind: Null} }

// FromValue converts plain Go values. Maps are emitted in sorted key order.
// Unsupported types become null.
func FromValue(v any) *Node {
	switch x := v.(type) {
	case nil:
		return NewNull()
	case *Node:
		return x
	case string:
		return NewString(x)
	case bool:
		return NewBool(x)
	case int:
		return NewInt(int64(x))
	case int32:
		return NewInt(int64(x))
	case int64:
		return NewInt(x)
	case uint32:
		return NewInt(int64(x))
	case float32:
		return NewFloat(float64(x))
	case float64:
		return NewFloat(x)
	case []string:
		arr := NewArray()
		for _, s := range x {
			arr.Append(NewString(s))
		}
		return arr
	case []any:
		arr := NewArray()
		for _, e := range x {
			arr.Append(FromValue(e))
		}
		return arr
	case map[string]string:
		obj := NewObject()
		for _, k := range sortedKeys(x) {
			obj.Set(k, NewString(x[k]))
		}
		return obj
	case map[string]any:
		obj := NewObject()
		for _, k := range sortedKeys(x) {
			obj.Set(k, FromValue(x[k]))
		}
		return obj
	}
	return NewNull()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (n *Node) Kind() Kind {
	if n == nil {
		return Null
	}
	return n.kind
}

// Key returns the member name of an object child
func (n *Node) Key() string { return n.key }

func (n *Node) Parent() *Node { return n.parent }
func (n *Node) First() *Node  { return n.first }
func (n *Node) Next() *Node   { return n.next }

// Len is the number of children of an object or array
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return n.n
}

func (n *Node) link(child *Node) {
	child.parent = n
	child.next = nil
	if n.last == nil {
		n.first = child
	} else {
		n.last.next = child
	}
	n.last = child
	n.n++
}

// Append adds child to the end of an array and returns n
func (n *Node) Append(child *Node) *Node {
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.key, child.keyed = "", false
	n.link(child)
	return n
}

// Set stores child under key, replacing an existing member in place
func (n *Node) Set(key string, child *Node) *Node {
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.key, child.keyed = key, true
	var prev *Node
	for c := n.first; c != nil; prev, c = c, c.next {
		if !c.keyed || c.key != key {
			continue
		}
		child.parent = n
		child.next = c.next
		if prev == nil {
			n.first = child
		} else {
			prev.next = child
		}
		if n.last == c {
			n.last = child
		}
		c.parent, c.next = nil, nil
		return n
	}
	n.link(child)
	return n
}

// SetString is Set with a string value
func (n *Node) SetString(key, v string) *Node {
	return n.Set(key, NewString(v))
}

func (n *Node) SetInt(key string, v int64) *Node {
	return n.Set(key, NewInt(v))
}

func (n *Node) SetBool(key string, v bool) *Node {
	return n.Set(key, NewBool(v))
}

// Remove unlinks child from n
func (n *Node) Remove(child *Node) bool {
	var prev *Node
	for c := n.first; c != nil; prev, c = c, c.next {
		if c != child {
			continue
		}
		if prev == nil {
			n.first = c.next
		} else {
			prev.next = c.next
		}
		if n.last == c {
			n.last = prev
		}
		c.parent, c.next = nil, nil
		n.n--
		return true
	}
	return false
}

// Get returns the object member named key, or nil
func (n *Node) Get(key string) *Node {
	if n == nil || n.kind != Object {
		return nil
	}
	for c := n.first; c != nil; c = c.next {
		if c.key == key {
			return c
		}
	}
	return nil
}

// Index returns the i-th child, or nil
func (n *Node) Index(i int) *Node {
	if n == nil || i < 0 {
		return nil
	}
	for c := n.first; c != nil; c = c.next {
		if i == 0 {
			return c
		}
		i--
	}
	return nil
}

// Path walks dotted object keys, e.g. "params.channels"
func (n *Node) Path(keys ...string) *Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Each calls fn for every child until it returns false
func (n *Node) Each(fn func(child *Node) bool) {
	if n == nil {
		return
	}
	for c := n.first; c != nil; {
		next := c.next
		if !fn(c) {
			return
		}
		c = next
	}
}

// Str returns the string value; numbers and booleans are formatted
func (n *Node) Str() (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.kind {
	case String:
		return n.str, true
	case Integer:
		return strconv.FormatInt(n.num, 10), true
	case Float:
		return strconv.FormatFloat(n.flt, 'g', -1, 64), true
	case Bool:
		return strconv.FormatBool(n.b), true
	}
	return "", false
}

// Int64 returns the integer value; numeric strings are accepted
func (n *Node) Int64() (int64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.kind {
	case Integer:
		return n.num, true
	case Float:
		if n.flt != math.Trunc(n.flt) || math.Abs(n.flt) > math.MaxInt64 {
			return 0, false
		}
		return int64(n.flt), true
	case String:
		v, err := strconv.ParseInt(n.str, 10, 64)
		return v, err == nil
	}
	return 0, false
}

func (n *Node) Float64() (float64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.kind {
	case Integer:
		return float64(n.num), true
	case Float:
		return n.flt, true
	}
	return 0, false
}

// Truthy follows loose client conventions: true, non-zero numbers and
// the strings "1" and "true"
func (n *Node) Truthy() bool {
	if n == nil {
		return false
	}
	switch n.kind {
	case Bool:
		return n.b
	case Integer:
		return n.num != 0
	case Float:
		return n.flt != 0
	case String:
		return n.str == "1" || n.str == "true"
	}
	return false
}

func (n *Node) IsNull() bool { return n == nil || n.kind == Null }

// Clone deep-copies n without its key or parent
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{kind: n.kind, str: n.str, num: n.num, flt: n.flt, b: n.b}
	for ch := n.first; ch != nil; ch = ch.next {
		cc := ch.Clone()
		cc.key, cc.keyed = ch.key, ch.keyed
		c.link(cc)
	}
	return c
}
