package socket

import (
	"fmt"

	"github.com/embergate/netcore/netid"
)

// Kind is the error taxonomy every Socket operation surfaces through.
// It is a single struct plus an enumerated Kind rather than a Rust-style
// sum type, since that's the idiomatic Go translation of the original
// NetError enum in original_source/src/net/error.rs.
type Kind int

const (
	KindNothingToDo Kind = iota
	KindNotConnected
	KindDisconnected
	KindSocketError
	KindStorageError
	KindNetCode
	KindInvalidPacket
)

func (k Kind) String() string {
	switch k {
	case KindNothingToDo:
		return "NothingToDo"
	case KindNotConnected:
		return "NotConnected"
	case KindDisconnected:
		return "Disconnected"
	case KindSocketError:
		return "SocketError"
	case KindStorageError:
		return "StorageError"
	case KindNetCode:
		return "NetCode"
	case KindInvalidPacket:
		return "InvalidPacket"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PayloadErrorKind narrows an InvalidPacket error to the stage of
// decoding that failed.
type PayloadErrorKind int

const (
	PayloadHeader PayloadErrorKind = iota
	PayloadVersion
	PayloadSource
	PayloadPayload
)

func (k PayloadErrorKind) String() string {
	switch k {
	case PayloadHeader:
		return "Header"
	case PayloadVersion:
		return "Version"
	case PayloadSource:
		return "Source"
	case PayloadPayload:
		return "Payload"
	default:
		return fmt.Sprintf("PayloadErrorKind(%d)", int(k))
	}
}

// Error is the single error type every layer of the socket maps its
// failures onto.
type Error struct {
	Kind        Kind
	Addr        netid.ClientAddr
	HasAddr     bool
	PayloadKind PayloadErrorKind
	Message     string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNothingToDo:
		return "nothing to do"
	case KindNotConnected:
		return fmt.Sprintf("not connected: %s", e.Addr)
	case KindDisconnected:
		return "disconnected"
	case KindSocketError:
		return fmt.Sprintf("socket error: %s", e.Message)
	case KindStorageError:
		return fmt.Sprintf("storage error: %s", e.Message)
	case KindNetCode:
		return fmt.Sprintf("codec error: %s", e.Message)
	case KindInvalidPacket:
		return fmt.Sprintf("invalid packet from %s (%s): %s", e.Addr, e.PayloadKind, e.Message)
	default:
		return fmt.Sprintf("unknown socket error (%s)", e.Kind)
	}
}

// Is reports equality by Kind only, so callers can write
// errors.Is(err, socket.ErrNothingToDo()) without matching Message/Addr.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func ErrNothingToDo() error { return &Error{Kind: KindNothingToDo} }

func ErrNotConnected(addr netid.ClientAddr) error {
	return &Error{Kind: KindNotConnected, Addr: addr, HasAddr: true}
}

func ErrDisconnected() error { return &Error{Kind: KindDisconnected} }

func ErrSocketError(msg string) error { return &Error{Kind: KindSocketError, Message: msg} }

func ErrStorageError(msg string) error { return &Error{Kind: KindStorageError, Message: msg} }

func ErrNetCode(msg string) error { return &Error{Kind: KindNetCode, Message: msg} }

func ErrInvalidPacket(addr netid.ClientAddr, kind PayloadErrorKind, msg string) error {
	return &Error{Kind: KindInvalidPacket, Addr: addr, HasAddr: true, PayloadKind: kind, Message: msg}
}
