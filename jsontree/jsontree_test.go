package jsontree

import (
	"strings"
	"testing"
)

func TestParseSerialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "object order", input: `{"z":1,"a":2,"m":3}`, want: `{"z":1,"a":2,"m":3}`},
		{name: "nested", input: ` [ {"cmd":"JOIN","params":{"channels":["a","b"]}} ] `, want: `[{"cmd":"JOIN","params":{"channels":["a","b"]}}]`},
		{name: "scalars", input: `[null,true,false,-12,1.5,"x"]`, want: `[null,true,false,-12,1.5,"x"]`},
		{name: "escapes", input: `["a\"b\\c\n\u0001"]`, want: `["a\"b\\c\n\u0001"]`},
		{name: "unicode", input: `["héllo"]`, want: `["héllo"]`},
		{name: "duplicate key", input: `{"a":1,"b":2,"a":3}`, want: `{"a":3,"b":2}`},
		{name: "empty", input: `{"o":{},"a":[]}`, want: `{"o":{},"a":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := n.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "truncated", input: `[{"cmd":`, want: ErrSyntax},
		{name: "garbage", input: `hello`, want: ErrSyntax},
		{name: "too deep", input: strings.Repeat("[", MaxDepth+1) + strings.Repeat("]", MaxDepth+1), want: ErrTooDeep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err != tt.want {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNumbers(t *testing.T) {
	t.Parallel()

	n, err := Parse([]byte(`{"i":42,"f":4.2,"e":1e3,"big":123456789012345678901234}`))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := n.Get("i").Int64(); !ok || v != 42 || n.Get("i").Kind() != Integer {
		t.Errorf("i = %v %v (%v)", v, ok, n.Get("i").Kind())
	}
	if n.Get("f").Kind() != Float {
		t.Errorf("f kind = %v, want float", n.Get("f").Kind())
	}
	if v, ok := n.Get("e").Int64(); !ok || v != 1000 {
		t.Errorf("e Int64() = %v %v, want 1000", v, ok)
	}
	if n.Get("big").Kind() != Float {
		t.Errorf("big kind = %v, want float", n.Get("big").Kind())
	}
}

func TestTreeLinks(t *testing.T) {
	t.Parallel()

	obj := NewObject()
	arr := NewArray()
	obj.Set("list", arr)
	arr.Append(NewString("a")).Append(NewString("b"))

	if arr.Parent() != obj {
		t.Errorf("Parent() of array is not the object")
	}
	if arr.Len() != 2 || arr.Index(1).String() != `"b"` {
		t.Errorf("array = %s", arr)
	}
	if obj.First() != arr || arr.Next() != nil {
		t.Errorf("sibling links broken")
	}

	obj.Set("list", NewInt(1))
	if got := obj.String(); got != `{"list":1}` {
		t.Errorf("after replace String() = %s", got)
	}
	if arr.Parent() != nil {
		t.Errorf("replaced node still has a parent")
	}
	if obj.Len() != 1 {
		t.Errorf("Len() = %d, want 1", obj.Len())
	}
}

func TestRemoveAndMove(t *testing.T) {
	t.Parallel()

	a := NewArray()
	x, y, z := NewInt(1), NewInt(2), NewInt(3)
	a.Append(x).Append(y).Append(z)

	if !a.Remove(z) || a.String() != "[1,2]" {
		t.Fatalf("Remove(last) = %s", a)
	}
	a.Append(NewInt(4))
	if a.String() != "[1,2,4]" {
		t.Errorf("append after removing last = %s", a)
	}

	b := NewObject()
	b.Set("moved", y)
	if a.String() != "[1,4]" || b.String() != `{"moved":2}` {
		t.Errorf("move = %s %s", a, b)
	}
}

func TestPathAndAccessors(t *testing.T) {
	t.Parallel()

	n, _ := Parse([]byte(`{"params":{"chl":"7","ok":"true","n":null}}`))
	if v, ok := n.Path("params", "chl").Int64(); !ok || v != 7 {
		t.Errorf("Path(params,chl).Int64() = %v %v", v, ok)
	}
	if !n.Path("params", "ok").Truthy() {
		t.Errorf("Truthy() = false")
	}
	if !n.Path("params", "n").IsNull() || !n.Path("params", "missing").IsNull() {
		t.Errorf("IsNull() = false")
	}
	if s, ok := n.Path("nope", "deeper").Str(); ok || s != "" {
		t.Errorf("Str() on missing = %q %v", s, ok)
	}
}

func TestFromValueAndClone(t *testing.T) {
	t.Parallel()

	n := FromValue(map[string]any{
		"b":    []any{1, "two", true, nil},
		"a":    map[string]string{"k": "v"},
		"tree": NewBool(false),
	})
	want := `{"a":{"k":"v"},"b":[1,"two",true,null],"tree":false}`
	if got := n.String(); got != want {
		t.Fatalf("FromValue() = %s, want %s", got, want)
	}

	c := n.Clone()
	c.SetString("a", "changed")
	if n.String() != want {
		t.Errorf("Clone() shares structure: %s", n)
	}
	if c.Parent() != nil {
		t.Errorf("Clone() kept a parent")
	}
}

func TestAppendStringEscapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"plain", `"plain"`},
		{"tab\there", `"tab\there"`},
		{"\x7f", "\"\x7f\""},
		{"bad\xffutf8", "\"bad\ufffdutf8\""},
		{"line\u2028sep", `"line\u2028sep"`},
	}
	for _, tt := range tests {
		if got := string(AppendString(nil, tt.in)); got != tt.want {
			t.Errorf("AppendString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
