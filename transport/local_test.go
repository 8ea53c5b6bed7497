package transport

import (
	"testing"

	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
)

func TestLocalPairSendRecv(t *testing.T) {
	server, client := NewLocalPair(0, netid.Invalid)

	env := packet.New(packet.LabelConnect, netid.Invalid)
	if err := client.Send(netid.LocalAddr(0), env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	from, got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Label != packet.LabelConnect {
		t.Fatalf("unexpected label %v", got.Label)
	}
	if from.Kind != netid.AddrLocal {
		t.Fatalf("unexpected from kind %v", from.Kind)
	}
}

func TestLocalTryRecvEmpty(t *testing.T) {
	server, _ := NewLocalPair(0, netid.Invalid)
	_, _, ok, err := server.TryRecv()
	if ok || err != nil {
		t.Fatalf("expected empty TryRecv, got ok=%v err=%v", ok, err)
	}
}

func TestLocalCloseSignalsDisconnected(t *testing.T) {
	server, client := NewLocalPair(0, netid.Invalid)
	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := client.Recv(); err != ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}
