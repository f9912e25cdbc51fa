package jsontree

import (
	"math"
	"strconv"
	"unicode/utf8"
)

const hex = "0123456789abcdef"

// AppendJSON appends the compact serialization of n to dst
func (n *Node) AppendJSON(dst []byte) []byte {
	if n == nil {
		return append(dst, "null"...)
	}
	switch n.kind {
	case Null:
		return append(dst, "null"...)
	case Bool:
		return strconv.AppendBool(dst, n.b)
	case Integer:
		return strconv.AppendInt(dst, n.num, 10)
	case Float:
		if math.IsInf(n.flt, 0) || math.IsNaN(n.flt) {
			return append(dst, "null"...)
		}
		return strconv.AppendFloat(dst, n.flt, 'g', -1, 64)
	case String:
		return AppendString(dst, n.str)
	case Array:
		dst = append(dst, '[')
		for c := n.first; c != nil; c = c.next {
			if c != n.first {
				dst = append(dst, ',')
			}
			dst = c.AppendJSON(dst)
		}
		return append(dst, ']')
	case Object:
		dst = append(dst, '{')
		for c := n.first; c != nil; c = c.next {
			if c != n.first {
				dst = append(dst, ',')
			}
			dst = AppendString(dst, c.key)
			dst = append(dst, ':')
			dst = c.AppendJSON(dst)
		}
		return append(dst, '}')
	}
	return dst
}

// String returns the compact serialization
func (n *Node) String() string { return string(n.AppendJSON(nil)) }

// AppendString appends s as a quoted JSON string. Invalid UTF-8 is
// replaced with U+FFFD.
func AppendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			dst = append(dst, s[start:i]...)
			switch c {
			case '"', '\\':
				dst = append(dst, '\\', c)
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, s[start:i]...)
			dst = append(dst, "\ufffd"...)
			i += size
			start = i
			continue
		}
		// U+2028 and U+2029 break JavaScript string literals
		if r == '\u2028' || r == '\u2029' {
			dst = append(dst, s[start:i]...)
			dst = append(dst, '\\', 'u', '2', '0', '2', hex[r&0xF])
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}
