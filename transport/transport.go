// Package transport implements the two datagram-like transports a Socket
// can run over, behind one shared contract. Each variant is a concrete
// type; package socket holds a Transport interface value, so dispatch is a
// single interface call rather than a hand-rolled tagged-variant switch.
package transport

import (
	"errors"

	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
)

// ErrDisconnected is returned by Recv/TryRecv when the peer end of an
// in-process pair has gone away, and by Local.Send once its own end is
// closed or the peer's queue is full.
var ErrDisconnected = errors.New("transport: disconnected")

// Transport is implemented by Local and UDP.
type Transport interface {
	// Send synchronously writes e to dest. It returns a non-nil error only
	// for unrecoverable I/O; callers surface that as a SocketError.
	Send(dest netid.ClientAddr, e packet.Envelope) error

	// TryRecv is nonblocking: ok is false and err is nil if nothing is
	// pending. A non-nil err means either a malformed datagram (paired
	// with the peer addr it came from, for InvalidPacket reporting) or an
	// unrecoverable I/O failure.
	TryRecv() (from netid.ClientAddr, env packet.Envelope, ok bool, err error)

	// Recv blocks until a datagram arrives. It returns ErrDisconnected
	// only for the in-process transport's end-of-stream.
	Recv() (from netid.ClientAddr, env packet.Envelope, err error)

	// Close releases any underlying resources.
	Close() error
}
