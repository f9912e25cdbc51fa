// Package wsproto implements the three WebSocket opening handshakes still
// seen in the wild (hixie-75, hixie-76 and the RFC 6455 "hybi" one) and the
// framings that go with them.
package wsproto

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
)

// Version identifies a handshake revision
type Version uint8

const (
	Hixie75 Version = iota + 1
	Hixie76
	HyBi
)

func (v Version) String() string {
	switch v {
	case Hixie75:
		return "hixie-75"
	case Hixie76:
		return "hixie-76"
	case HyBi:
		return "hybi"
	}
	return "unknown"
}

// Legacy reports whether v frames messages with 0x00 ... 0xFF
func (v Version) Legacy() bool { return v == Hixie75 || v == Hixie76 }

// Key3Length is the size of the hixie-76 request body
const Key3Length = 8

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var ErrBadKey = errors.New("wsproto: malformed handshake key")

// HandshakeRequest carries the request fields a response is built from
type HandshakeRequest struct {
	Host     string
	URI      string
	Origin   string
	Protocol string
	Key      string
	Key1     string
	Key2     string
	Key3     []byte
	Secure   bool
}

// Detect picks the handshake variant from which key headers are present
func Detect(key1, key2, key string) Version {
	switch {
	case key1 != "" && key2 != "":
		return Hixie76
	case key != "":
		return HyBi
	}
	return Hixie75
}

// AcceptKey computes Sec-WebSocket-Accept for a Sec-WebSocket-Key
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Hixie76Token computes the 16-byte challenge answer: the MD5 of the two
// keys' digits divided by their space counts, big-endian, followed by key3
func Hixie76Token(key1, key2 string, key3 []byte) ([]byte, error) {
	if len(key3) != Key3Length {
		return nil, ErrBadKey
	}
	n1, err := keyNumber(key1)
	if err != nil {
		return nil, err
	}
	n2, err := keyNumber(key2)
	if err != nil {
		return nil, err
	}
	var challenge [16]byte
	binary.BigEndian.PutUint32(challenge[0:4], n1)
	binary.BigEndian.PutUint32(challenge[4:8], n2)
	copy(challenge[8:], key3)
	sum := md5.Sum(challenge[:])
	return sum[:], nil
}

func keyNumber(key string) (uint32, error) {
	var digits uint64
	var spaces uint64
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c >= '0' && c <= '9':
			digits = digits*10 + uint64(c-'0')
			if digits > 1<<40 {
				return 0, ErrBadKey
			}
		case c == ' ':
			spaces++
		}
	}
	if spaces == 0 || digits%spaces != 0 {
		return 0, ErrBadKey
	}
	q := digits / spaces
	if q > 0xFFFFFFFF {
		return 0, ErrBadKey
	}
	return uint32(q), nil
}

// Response builds the full 101 answer for the given variant
func Response(v Version, r HandshakeRequest) ([]byte, error) {
	scheme := "ws://"
	if r.Secure {
		scheme = "wss://"
	}
	var b strings.Builder
	switch v {
	case Hixie75:
		b.WriteString("HTTP/1.1 101 Web Socket Protocol Handshake\r\n")
		b.WriteString("Upgrade: WebSocket\r\nConnection: Upgrade\r\n")
		b.WriteString("WebSocket-Origin: " + r.Origin + "\r\n")
		b.WriteString("WebSocket-Location: " + scheme + r.Host + r.URI + "\r\n")
		if r.Protocol != "" {
			b.WriteString("WebSocket-Protocol: " + r.Protocol + "\r\n")
		}
		b.WriteString("\r\n")
		return []byte(b.String()), nil

	case Hixie76:
		token, err := Hixie76Token(r.Key1, r.Key2, r.Key3)
		if err != nil {
			return nil, err
		}
		b.WriteString("HTTP/1.1 101 WebSocket Protocol Handshake\r\n")
		b.WriteString("Upgrade: WebSocket\r\nConnection: Upgrade\r\n")
		b.WriteString("Sec-WebSocket-Origin: " + r.Origin + "\r\n")
		b.WriteString("Sec-WebSocket-Location: " + scheme + r.Host + r.URI + "\r\n")
		if r.Protocol != "" {
			b.WriteString("Sec-WebSocket-Protocol: " + r.Protocol + "\r\n")
		}
		b.WriteString("\r\n")
		return append([]byte(b.String()), token...), nil

	case HyBi:
		if r.Key == "" {
			return nil, ErrBadKey
		}
		b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
		b.WriteString("Upgrade: websocket\r\nConnection: Upgrade\r\n")
		b.WriteString("Sec-WebSocket-Accept: " + AcceptKey(r.Key) + "\r\n")
		if r.Protocol != "" {
			if i := strings.IndexByte(r.Protocol, ','); i >= 0 {
				b.WriteString("Sec-WebSocket-Protocol: " + strings.TrimSpace(r.Protocol[:i]) + "\r\n")
			} else {
				b.WriteString("Sec-WebSocket-Protocol: " + r.Protocol + "\r\n")
			}
		}
		b.WriteString("\r\n")
		return []byte(b.String()), nil
	}
	return nil, ErrBadKey
}
