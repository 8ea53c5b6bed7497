package transport

import (
	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
)

type localMsg struct {
	from netid.ClientAddr
	env  packet.Envelope
}

// Local is the in-process transport: two message queues wired head to
// tail. It's grounded on eventsocket's connection bookkeeping (a closed
// channel signals "gone") and on original_source's LocalSocket, which
// pairs an mpsc sender with a receiver created by its counterpart.
type Local struct {
	self   netid.ClientAddr
	tx     chan localMsg
	rx     chan localMsg
	closed bool
}

const localQueueDepth = 256

// NewLocalPair builds a connected pair: server and client each see the
// other's sends on their own rx queue.
func NewLocalPair(serverID, clientID netid.ClientId) (server *Local, client *Local) {
	toServer := make(chan localMsg, localQueueDepth)
	toClient := make(chan localMsg, localQueueDepth)
	server = &Local{self: netid.LocalAddr(serverID), tx: toClient, rx: toServer}
	client = &Local{self: netid.LocalAddr(clientID), tx: toServer, rx: toClient}
	return server, client
}

// Send enqueues e for the peer. It never blocks indefinitely: the queue is
// generously sized, and a full queue signals backpressure as an error
// rather than stalling the caller's single thread.
func (l *Local) Send(dest netid.ClientAddr, e packet.Envelope) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrDisconnected
		}
	}()
	if l.closed {
		return ErrDisconnected
	}
	select {
	case l.tx <- localMsg{from: l.self, env: e}:
		return nil
	default:
		return ErrDisconnected
	}
}

// TryRecv dequeues without blocking.
func (l *Local) TryRecv() (netid.ClientAddr, packet.Envelope, bool, error) {
	select {
	case msg, ok := <-l.rx:
		if !ok {
			return netid.ClientAddr{}, packet.Envelope{}, false, ErrDisconnected
		}
		return msg.from, msg.env, true, nil
	default:
		return netid.ClientAddr{}, packet.Envelope{}, false, nil
	}
}

// Recv blocks until a message arrives or the peer's send side closes.
func (l *Local) Recv() (netid.ClientAddr, packet.Envelope, error) {
	msg, ok := <-l.rx
	if !ok {
		return netid.ClientAddr{}, packet.Envelope{}, ErrDisconnected
	}
	return msg.from, msg.env, nil
}

// Close marks this end closed and closes its send side, so the peer's
// next Recv/TryRecv observes ErrDisconnected.
func (l *Local) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.tx)
	return nil
}
