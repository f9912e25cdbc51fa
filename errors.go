package chitocomet

import (
	"errors"

	"github.com/sairash/chitocomet/jsontree"
)

var (
	// ErrServerClosed is returned by Do and Stats once Run has returned
	ErrServerClosed = errors.New("chitocomet: server closed")
	ErrConnClosed   = errors.New("chitocomet: connection closed")
	// ErrOverflow means a connection's pending output passed max_output_bytes
	ErrOverflow      = errors.New("chitocomet: output queue overflow")
	ErrAlreadyListen = errors.New("chitocomet: server is already listening")
)

// ErrorClass tells the dispatcher where a failure is reported
type ErrorClass uint8

const (
	// ClassProtocol failures are written on the connection, which is then shut down
	ClassProtocol ErrorClass = iota
	// ClassSession failures become an ERR raw on the caller's subuser
	ClassSession
)

// Failure is a user-visible error with a stable code and symbolic value
type Failure struct {
	Code  string
	Value string
	Class ErrorClass
}

func (f Failure) Error() string { return f.Code + " " + f.Value }

var (
	ErrBadParams           = Failure{"001", "BAD_PARAMS", ClassSession}
	ErrBadCmd              = Failure{"002", "BAD_CMD", ClassSession}
	ErrBadSessID           = Failure{"004", "BAD_SESSID", ClassProtocol}
	ErrBadJSON             = Failure{"005", "BAD_JSON", ClassProtocol}
	ErrAlreadyOnChannel    = Failure{"100", "ALREADY_ON_CHANNEL", ClassSession}
	ErrUnknownUser         = Failure{"102", "UNKNOWN_USER", ClassSession}
	ErrUnknownChannel      = Failure{"103", "UNKNOWN_CHANNEL", ClassSession}
	ErrNotInChannel        = Failure{"104", "NOT_IN_CHANNEL", ClassSession}
	ErrCantKick            = Failure{"105", "CANT_KICK", ClassSession}
	ErrUserProtected       = Failure{"106", "USER_PROTECTED", ClassSession}
	ErrCantBan             = Failure{"107", "CANT_BAN", ClassSession}
	ErrSessionParams       = Failure{"108", "SESSION_ERROR_PARAMS", ClassSession}
	ErrUnknownPipe         = Failure{"109", "UNKNOWN_PIPE", ClassSession}
	ErrReasonOrTimeTooLong = Failure{"110", "REASON_OR_TIME_TOO_LONG", ClassSession}
	ErrBanned              = Failure{"111", "YOU_ARE_BANNED", ClassSession}
	ErrSetLevel            = Failure{"112", "SETLEVEL_ERROR", ClassSession}
	ErrSetTopic            = Failure{"113", "SETTOPIC_ERROR", ClassSession}
	ErrUnknownConnection   = Failure{"200", "UNKNOWN_CONNECTION_ERROR", ClassProtocol}
	ErrCantJoinChannel     = Failure{"202", "CANT_JOIN_CHANNEL", ClassSession}
	ErrSession             = Failure{"203", "SESSION_ERROR", ClassSession}
	ErrProxyInit           = Failure{"204", "PROXY_INIT_ERROR", ClassSession}
	ErrProxyNotConnected   = Failure{"205", "PROXY_NOT_CONNECTED", ClassSession}
	ErrRateLimited         = Failure{"206", "RATE_LIMITED", ClassSession}
	ErrBadChl              = Failure{"250", "BAD_CHL", ClassSession}
)

// data is the body of the ERR raw
func (f Failure) data() *jsontree.Node {
	obj := jsontree.NewObject()
	obj.SetString("code", f.Code)
	obj.SetString("value", f.Value)
	return obj
}

// AsFailure unwraps err to a Failure. Any other error maps to BAD_PARAMS.
func AsFailure(err error) Failure {
	var f Failure
	if errors.As(err, &f) {
		return f
	}
	return ErrBadParams
}
