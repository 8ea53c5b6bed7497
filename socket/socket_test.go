package socket

import (
	"errors"
	"testing"
	"time"

	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
	"github.com/embergate/netcore/transport"
)

func testOptions(max uint16) Options {
	return Options{MaxClients: max, TaskIntervalMs: 10}
}

// TestPairHandshake is scenario 1 in spec.md §8: a client Connects with an
// invalid assigned id, the server admits it and replies with the assigned
// id, and after one client receive both sides agree on the new id.
func TestPairHandshake(t *testing.T) {
	server, client, err := NewLocalPair(testOptions(8), testOptions(1))
	if err != nil {
		t.Fatalf("NewLocalPair: %v", err)
	}

	connect := packet.New(packet.LabelConnect, netid.Invalid)
	connect.SetPayload(packet.ConnectionPayload{
		Version:        packet.ProtocolVersion,
		AssignedID:     netid.Invalid,
		PingIntervalMs: 5000,
	})
	if err := client.Send(netid.Server, connect); err != nil {
		t.Fatalf("client Send Connect: %v", err)
	}

	if _, err := server.TryRecv(); err != nil {
		t.Fatalf("server TryRecv Connect: %v", err)
	}
	if _, err := client.TryRecv(); err != nil {
		t.Fatalf("client TryRecv Connect reply: %v", err)
	}

	if client.ID() != 1 {
		t.Fatalf("client.ID() = %v, want 1", client.ID())
	}
	ids := server.RemoteIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("server.RemoteIDs() = %v, want [1]", ids)
	}
}

// TestVersionMismatch is scenario 2: a Connect carrying an unsupported
// protocol version is rejected and leaves no live record behind.
func TestVersionMismatch(t *testing.T) {
	server, client, err := NewLocalPair(testOptions(8), testOptions(1))
	if err != nil {
		t.Fatalf("NewLocalPair: %v", err)
	}

	connect := packet.New(packet.LabelConnect, netid.Invalid)
	connect.SetPayload(packet.ConnectionPayload{
		Version:        packet.ProtocolVersion + 1,
		AssignedID:     netid.Invalid,
		PingIntervalMs: 5000,
	})
	if err := client.Send(netid.Server, connect); err != nil {
		t.Fatalf("client Send Connect: %v", err)
	}

	_, err = server.TryRecv()
	se, ok := err.(*Error)
	if !ok || se.Kind != KindInvalidPacket || se.PayloadKind != PayloadVersion {
		t.Fatalf("expected InvalidPacket(Version), got %v", err)
	}
	if len(server.RemoteIDs()) != 0 {
		t.Fatalf("expected no live record after version mismatch, got %v", server.RemoteIDs())
	}
}

// TestClientRejectsVersionMismatchedReply covers the Connect row's version
// check from the server->client direction: a Connect-reply carrying an
// unsupported protocol version is rejected by the client exactly like a
// bad client->server Connect is rejected by the server.
func TestClientRejectsVersionMismatchedReply(t *testing.T) {
	serverTr, clientTr := transport.NewLocalPair(netid.Server, netid.Invalid)
	serverAddr := netid.LocalAddr(netid.Server)
	client, err := New(clientTr, testOptions(1), &serverAddr, "local")
	if err != nil {
		t.Fatalf("New client: %v", err)
	}

	badReply := packet.New(packet.LabelConnect, netid.Server)
	badReply.SetPayload(packet.ConnectionPayload{
		Version:        packet.ProtocolVersion + 1,
		AssignedID:     1,
		PingIntervalMs: 5000,
	})
	if err := serverTr.Send(netid.LocalAddr(netid.Invalid), badReply); err != nil {
		t.Fatalf("server Send bad reply: %v", err)
	}

	_, err = client.TryRecv()
	se, ok := err.(*Error)
	if !ok || se.Kind != KindInvalidPacket || se.PayloadKind != PayloadVersion {
		t.Fatalf("expected InvalidPacket(Version), got %v", err)
	}
	if client.ID() != netid.Invalid {
		t.Fatalf("expected client id to remain unassigned, got %v", client.ID())
	}
}

// TestPingRTTEcho is scenario 4: the server echoes a Ping's original
// timestamp back to the sender unchanged when Respond is set.
func TestPingRTTEcho(t *testing.T) {
	server, client, err := handshaken(t)
	if err != nil {
		t.Fatalf("handshaken: %v", err)
	}

	sent := packet.New(packet.LabelPing, client.ID())
	sent.SetPayload(packet.PingPayload{Ts: 10 * time.Second, Respond: true})
	if err := client.Send(netid.Server, sent); err != nil {
		t.Fatalf("client Send Ping: %v", err)
	}
	if _, err := server.TryRecv(); err != nil {
		t.Fatalf("server TryRecv Ping: %v", err)
	}

	reply, err := client.TryRecv()
	if err != nil {
		t.Fatalf("client TryRecv Ping reply: %v", err)
	}
	var payload packet.PingPayload
	if err := reply.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Respond {
		t.Fatal("expected echoed Ping to carry Respond=false")
	}
	if payload.Ts != 10*time.Second {
		t.Fatalf("expected echoed ts unchanged at 10s, got %v", payload.Ts)
	}
}

// TestBlacklistAfterSixBadPayloads is scenario 5: six malformed Connect
// payloads from one address trip the error budget, blacklisting it; a
// subsequent well-formed Connect from that address gets Error(Blacklisted).
func TestBlacklistAfterSixBadPayloads(t *testing.T) {
	serverTr, clientTr := transport.NewLocalPair(netid.Server, netid.Invalid)
	server, err := New(serverTr, testOptions(8), nil, "local")
	if err != nil {
		t.Fatalf("New server: %v", err)
	}

	peerAddr := netid.LocalAddr(42)
	badPayload := packet.Envelope{Label: packet.LabelConnect, Source: netid.Invalid, Payload: []byte{0x01}}

	for i := 0; i < 6; i++ {
		if err := clientTr.Send(peerAddr, badPayload); err != nil {
			t.Fatalf("send bad payload %d: %v", i, err)
		}
		if _, err := server.TryRecv(); err == nil {
			t.Fatalf("bad payload %d: expected error, got none", i)
		}
	}

	// The in-process transport ignores peerAddr: every datagram arrives
	// from clientTr's own fixed self address, Local(invalid), which is the
	// address that was just blacklisted. Check the blacklist state through
	// a fresh, well-formed Connect from that same wire addr.
	goodConnect := packet.New(packet.LabelConnect, netid.Invalid)
	goodConnect.SetPayload(packet.ConnectionPayload{Version: packet.ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: 5000})
	if err := clientTr.Send(peerAddr, goodConnect); err != nil {
		t.Fatalf("send good Connect: %v", err)
	}
	_, err = server.TryRecv()
	if err == nil || !errors.Is(err, ErrNothingToDo()) {
		t.Fatalf("expected NothingToDo (blacklisted) after budget exhaustion, got %v", err)
	}
	if len(server.RemoteIDs()) != 0 {
		t.Fatalf("expected no live record for blacklisted address, got %v", server.RemoteIDs())
	}
}

// TestDisconnectArchival is scenario 6: a Disconnect archives the peer's
// record, and a re-Connect from the same address before drain reuses the
// same external id.
func TestDisconnectArchival(t *testing.T) {
	server, client, err := handshaken(t)
	if err != nil {
		t.Fatalf("handshaken: %v", err)
	}
	firstID := client.ID()

	disc := packet.New(packet.LabelDisconnect, firstID)
	if err := client.Send(netid.Server, disc); err != nil {
		t.Fatalf("client Send Disconnect: %v", err)
	}
	if _, err := server.TryRecv(); err != nil {
		t.Fatalf("server TryRecv Disconnect: %v", err)
	}
	if len(server.RemoteIDs()) != 0 {
		t.Fatalf("expected no live record immediately after disconnect, got %v", server.RemoteIDs())
	}

	reconnect := packet.New(packet.LabelConnect, netid.Invalid)
	reconnect.SetPayload(packet.ConnectionPayload{Version: packet.ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: 5000})
	if err := client.Send(netid.Server, reconnect); err != nil {
		t.Fatalf("client Send re-Connect: %v", err)
	}
	if _, err := server.TryRecv(); err != nil {
		t.Fatalf("server TryRecv re-Connect: %v", err)
	}
	ids := server.RemoteIDs()
	if len(ids) != 1 || ids[0] != firstID {
		t.Fatalf("expected reconnect to reuse id %v, got %v", firstID, ids)
	}
}

// TestSelfSendSuppressed covers the Send guard in 4.F.2: a socket sending
// to its own id (other than Connect) gets NothingToDo rather than looping
// a packet back to itself.
func TestSelfSendSuppressed(t *testing.T) {
	server, _, err := NewLocalPair(testOptions(8), testOptions(1))
	if err != nil {
		t.Fatalf("NewLocalPair: %v", err)
	}
	msg := packet.New(packet.LabelMessage, server.ID())
	msg.SetPayload(packet.MessagePayload{Text: "hi"})
	if err := server.Send(server.ID(), msg); !errors.Is(err, ErrNothingToDo()) {
		t.Fatalf("expected NothingToDo for self-send, got %v", err)
	}
}

// handshaken builds a local pair and drives the Connect/Connect-reply
// exchange to completion, returning both sockets ready for further
// scenario-specific traffic.
func handshaken(t *testing.T) (*Socket, *Socket, error) {
	t.Helper()
	server, client, err := NewLocalPair(testOptions(8), testOptions(1))
	if err != nil {
		return nil, nil, err
	}
	connect := packet.New(packet.LabelConnect, netid.Invalid)
	connect.SetPayload(packet.ConnectionPayload{Version: packet.ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: 5000})
	if err := client.Send(netid.Server, connect); err != nil {
		return nil, nil, err
	}
	if _, err := server.TryRecv(); err != nil {
		return nil, nil, err
	}
	if _, err := client.TryRecv(); err != nil {
		return nil, nil, err
	}
	return server, client, nil
}
