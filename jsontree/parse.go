package jsontree

import (
	"errors"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxDepth bounds nesting of parsed documents
const MaxDepth = 64

var (
	ErrSyntax  = errors.New("jsontree: invalid JSON")
	ErrTooDeep = errors.New("jsontree: nesting too deep")
)

// Parse builds a tree from a complete JSON document
func Parse(data []byte) (*Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrSyntax
	}
	return convert(gjson.ParseBytes(data), 0)
}

func convert(r gjson.Result, depth int) (*Node, error) {
	switch r.Type {
	case gjson.Null:
		return NewNull(), nil
	case gjson.True:
		return NewBool(true), nil
	case gjson.False:
		return NewBool(false), nil
	case gjson.String:
		return NewString(r.Str), nil
	case gjson.Number:
		return number(r), nil
	}

	if depth >= MaxDepth {
		return nil, ErrTooDeep
	}
	var n *Node
	switch {
	case r.IsObject():
		n = NewObject()
	case r.IsArray():
		n = NewArray()
	default:
		return nil, ErrSyntax
	}

	var err error
	r.ForEach(func(key, value gjson.Result) bool {
		var child *Node
		child, err = convert(value, depth+1)
		if err != nil {
			return false
		}
		if n.kind == Object {
			// duplicate keys: last one wins, first position kept
			n.Set(key.Str, child)
		} else {
			n.Append(child)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func number(r gjson.Result) *Node {
	raw := r.Raw
	if !strings.ContainsAny(raw, ".eE") {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return NewInt(v)
		}
	}
	return NewFloat(r.Num)
}
