package wsproto

import (
	"bytes"
	"testing"

	"github.com/gobwas/ws"
)

func clientFrame(t *testing.T, f ws.Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, ws.MaskFrameInPlace(f)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	return buf.Bytes()
}

func TestLegacyDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		wantOp  ws.OpCode
		wantMsg string
		wantN   int
		wantErr error
	}{
		{name: "text", input: []byte("\x00hello\xffrest"), wantOp: ws.OpText, wantMsg: "hello", wantN: 7},
		{name: "partial", input: []byte("\x00hel")},
		{name: "close", input: []byte{0xFF, 0x00}, wantOp: ws.OpClose, wantN: 2},
		{name: "close partial", input: []byte{0xFF}},
		{name: "garbage", input: []byte("xyz"), wantErr: ErrFrame},
		{name: "empty", input: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c LegacyCodec
			f, n, err := c.Decode(tt.input)
			if err != tt.wantErr {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Errorf("Decode() n = %d, want %d", n, tt.wantN)
			}
			if f.Op != tt.wantOp {
				t.Errorf("Decode() op = %v, want %v", f.Op, tt.wantOp)
			}
			if string(f.Payload) != tt.wantMsg {
				t.Errorf("Decode() payload = %q, want %q", f.Payload, tt.wantMsg)
			}
		})
	}
}

func TestLegacyEncode(t *testing.T) {
	t.Parallel()

	var c LegacyCodec
	got := c.AppendFrame([]byte("x"), []byte("[]"))
	if want := []byte("x\x00[]\xff"); !bytes.Equal(got, want) {
		t.Errorf("AppendFrame() = %q, want %q", got, want)
	}
	if got := c.AppendControl(nil, ws.OpClose, nil); !bytes.Equal(got, []byte{0xFF, 0x00}) {
		t.Errorf("AppendControl(close) = %v", got)
	}
}

func TestHyBiDecodeMasked(t *testing.T) {
	t.Parallel()

	raw := clientFrame(t, ws.NewTextFrame([]byte(`[{"cmd":"CONNECT"}]`)))
	c := &HyBiCodec{}

	// every strict prefix is incomplete
	for i := 0; i < len(raw); i++ {
		if _, n, err := c.Decode(raw[:i]); err != nil || n != 0 {
			t.Fatalf("Decode(%d bytes) = n %d, err %v; want need more", i, n, err)
		}
	}

	f, n, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(raw) {
		t.Errorf("Decode() n = %d, want %d", n, len(raw))
	}
	if f.Op != ws.OpText || string(f.Payload) != `[{"cmd":"CONNECT"}]` {
		t.Errorf("Decode() = %v %q", f.Op, f.Payload)
	}
}

func TestHyBiDecodeFragments(t *testing.T) {
	t.Parallel()

	var raw []byte
	raw = append(raw, clientFrame(t, ws.NewFrame(ws.OpText, false, []byte("hel")))...)
	raw = append(raw, clientFrame(t, ws.NewFrame(ws.OpContinuation, false, []byte("lo ")))...)
	raw = append(raw, clientFrame(t, ws.NewFrame(ws.OpContinuation, true, []byte("world")))...)

	c := &HyBiCodec{}
	f, n, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(raw) || string(f.Payload) != "hello world" || f.Op != ws.OpText {
		t.Errorf("Decode() = %v %q n=%d", f.Op, f.Payload, n)
	}
}

func TestHyBiDecodeErrors(t *testing.T) {
	t.Parallel()

	var unmasked bytes.Buffer
	ws.WriteFrame(&unmasked, ws.NewTextFrame([]byte("x")))

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{name: "unmasked", input: unmasked.Bytes(), want: ErrUnmasked},
		{name: "stray continuation", input: clientFrame(t, ws.NewFrame(ws.OpContinuation, true, []byte("x"))), want: ErrFragments},
		{name: "fragmented control", input: clientFrame(t, ws.NewFrame(ws.OpPing, false, nil)), want: ErrFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &HyBiCodec{}
			if _, _, err := c.Decode(tt.input); err != tt.want {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHyBiEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	c := &HyBiCodec{}
	payload := bytes.Repeat([]byte("a"), 300)
	out := c.AppendFrame(nil, payload)

	f, err := ws.ReadFrame(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if f.Header.Masked {
		t.Errorf("server frame is masked")
	}
	if f.Header.OpCode != ws.OpText || !f.Header.Fin {
		t.Errorf("header = %+v", f.Header)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload mismatch")
	}
}

func TestNewCodec(t *testing.T) {
	t.Parallel()

	if _, ok := NewCodec(Hixie76).(*LegacyCodec); !ok {
		t.Errorf("NewCodec(Hixie76) is not legacy")
	}
	if _, ok := NewCodec(HyBi).(*HyBiCodec); !ok {
		t.Errorf("NewCodec(HyBi) is not hybi")
	}
}

func TestCloseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{"no status", nil, nil},
		{"status echoed without reason", CloseBody(ws.StatusGoingAway, "tab closed"), []byte{0x03, 0xE9}},
		{"normal", CloseBody(ws.StatusNormalClosure, ""), []byte{0x03, 0xE8}},
	}
	for _, tt := range tests {
		if got := CloseReply(tt.payload); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: CloseReply() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
