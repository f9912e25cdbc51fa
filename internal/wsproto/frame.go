package wsproto

import (
	"bytes"
	"errors"
	"io"

	"github.com/gobwas/ws"
)

// MaxMessageSize bounds one reassembled message
const MaxMessageSize = 1 << 20

var (
	ErrFrame     = errors.New("wsproto: malformed frame")
	ErrUnmasked  = errors.New("wsproto: client frame not masked")
	ErrTooLarge  = errors.New("wsproto: message too large")
	ErrFragments = errors.New("wsproto: unexpected continuation")
)

// Frame is one decoded message or control frame. A zero Op means the
// decoder consumed bytes without completing a message.
type Frame struct {
	Op      ws.OpCode
	Payload []byte
}

// Codec decodes client frames and encodes server frames.
// Decode returns n == 0 when buf does not yet hold a full frame.
type Codec interface {
	Decode(buf []byte) (f Frame, n int, err error)
	AppendFrame(dst, payload []byte) []byte
	AppendControl(dst []byte, op ws.OpCode, payload []byte) []byte
}

// NewCodec returns the codec matching a handshake variant
func NewCodec(v Version) Codec {
	if v.Legacy() {
		return &LegacyCodec{}
	}
	return &HyBiCodec{}
}

// LegacyCodec frames text as 0x00 payload 0xFF. The byte pair 0xFF 0x00
// is the closing handshake.
type LegacyCodec struct{}

func (LegacyCodec) Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, nil
	}
	switch buf[0] {
	case 0x00:
		end := bytes.IndexByte(buf[1:], 0xFF)
		if end < 0 {
			if len(buf) > MaxMessageSize {
				return Frame{}, 0, ErrTooLarge
			}
			return Frame{}, 0, nil
		}
		payload := make([]byte, end)
		copy(payload, buf[1:1+end])
		return Frame{Op: ws.OpText, Payload: payload}, end + 2, nil
	case 0xFF:
		if len(buf) < 2 {
			return Frame{}, 0, nil
		}
		if buf[1] == 0x00 {
			return Frame{Op: ws.OpClose}, 2, nil
		}
	}
	return Frame{}, 0, ErrFrame
}

func (LegacyCodec) AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, 0x00)
	dst = append(dst, payload...)
	return append(dst, 0xFF)
}

// AppendControl only knows close; legacy framing has no ping
func (LegacyCodec) AppendControl(dst []byte, op ws.OpCode, _ []byte) []byte {
	if op == ws.OpClose {
		return append(dst, 0xFF, 0x00)
	}
	return dst
}

// HyBiCodec speaks RFC 6455 framing through gobwas/ws headers and
// reassembles fragmented messages.
type HyBiCodec struct {
	fragmented bool
	op         ws.OpCode
	partial    []byte
}

func (c *HyBiCodec) Decode(buf []byte) (Frame, int, error) {
	consumed := 0
	for {
		rest := buf[consumed:]
		r := bytes.NewReader(rest)
		h, err := ws.ReadHeader(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, consumed, nil
		}
		if err != nil {
			return Frame{}, 0, ErrFrame
		}
		if h.Rsv != 0 {
			return Frame{}, 0, ErrFrame
		}
		if !h.Masked {
			return Frame{}, 0, ErrUnmasked
		}
		if h.Length > MaxMessageSize || len(c.partial)+int(h.Length) > MaxMessageSize {
			return Frame{}, 0, ErrTooLarge
		}
		headerLen := len(rest) - r.Len()
		total := headerLen + int(h.Length)
		if len(rest) < total {
			return Frame{}, consumed, nil
		}
		payload := make([]byte, h.Length)
		copy(payload, rest[headerLen:total])
		ws.Cipher(payload, h.Mask, 0)
		consumed += total

		switch {
		case h.OpCode.IsControl():
			if !h.Fin || h.Length > 125 {
				return Frame{}, 0, ErrFrame
			}
			return Frame{Op: h.OpCode, Payload: payload}, consumed, nil

		case h.OpCode == ws.OpContinuation:
			if !c.fragmented {
				return Frame{}, 0, ErrFragments
			}
			c.partial = append(c.partial, payload...)
			if h.Fin {
				f := Frame{Op: c.op, Payload: c.partial}
				c.fragmented, c.op, c.partial = false, 0, nil
				return f, consumed, nil
			}

		case h.OpCode == ws.OpText || h.OpCode == ws.OpBinary:
			if c.fragmented {
				return Frame{}, 0, ErrFragments
			}
			if h.Fin {
				return Frame{Op: h.OpCode, Payload: payload}, consumed, nil
			}
			c.fragmented, c.op, c.partial = true, h.OpCode, payload

		default:
			return Frame{}, 0, ErrFrame
		}
	}
}

func (c *HyBiCodec) AppendFrame(dst, payload []byte) []byte {
	return appendFrame(dst, ws.OpText, payload)
}

func (c *HyBiCodec) AppendControl(dst []byte, op ws.OpCode, payload []byte) []byte {
	return appendFrame(dst, op, payload)
}

// sliceWriter lets ws.WriteHeader append straight into a byte slice
type sliceWriter struct{ b []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func appendFrame(dst []byte, op ws.OpCode, payload []byte) []byte {
	w := sliceWriter{b: dst}
	// server frames are never masked
	ws.WriteHeader(&w, ws.Header{
		Fin:    true,
		OpCode: op,
		Length: int64(len(payload)),
	})
	return append(w.b, payload...)
}

// CloseBody is the payload of a close frame with a status code
func CloseBody(code ws.StatusCode, reason string) []byte {
	return ws.NewCloseFrameBody(code, reason)
}

// CloseReply answers a peer's close payload: its status code echoed
// without the reason, or an empty body when the peer sent no code
func CloseReply(payload []byte) []byte {
	code, _ := ws.ParseCloseFrameData(payload)
	if code == ws.StatusNoStatusRcvd {
		return nil
	}
	return CloseBody(code, "")
}
