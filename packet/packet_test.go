package packet

import (
	"testing"
	"time"

	"github.com/embergate/netcore/netid"
	"github.com/go-test/deep"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := New(LabelConnect, netid.Invalid)
	e.SetPayload(ConnectionPayload{Version: ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: 5000})
	e.Sequence = 7

	wire := Encode(e)
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := deep.Equal(e, got); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}

	var payload ConnectionPayload
	if err := got.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Version != ProtocolVersion || payload.AssignedID != netid.Invalid || payload.PingIntervalMs != 5000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestEnvelopeMinimumLength(t *testing.T) {
	for n := 0; n < MinEnvelopeSize; n++ {
		buf := make([]byte, n)
		if _, err := Decode(buf); err != ErrHeaderTooShort {
			t.Fatalf("len=%d: expected ErrHeaderTooShort, got %v", n, err)
		}
	}
	buf := make([]byte, MinEnvelopeSize)
	if _, err := Decode(buf); err != nil {
		t.Fatalf("len=%d should decode: %v", MinEnvelopeSize, err)
	}
}

func TestLabelForwardCompat(t *testing.T) {
	for b := 6; b <= 0xFF; b++ {
		l := Label(byte(b))
		if !l.IsExtension() {
			t.Fatalf("label %d should be an extension", b)
		}
		wire := Encode(Envelope{Label: l, Source: 1, Sequence: 0})
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Label != l {
			t.Fatalf("label %d round-tripped as %d", b, got.Label)
		}
	}
}

func TestPingPayloadRoundTrip(t *testing.T) {
	p := PingPayload{Ts: 10*time.Second + 3, Respond: true}
	w := New(LabelPing, 1)
	w.SetPayload(p)

	var out PingPayload
	if err := w.DecodePayload(&out); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if out != p {
		t.Fatalf("got %+v want %+v", out, p)
	}
}

func TestErrorPayloadRoundTrip(t *testing.T) {
	p := ErrorPayload{Code: ErrorBlacklisted, Message: "one connection per IP"}
	e := New(LabelError, netid.Server)
	e.SetPayload(p)

	var out ErrorPayload
	if err := e.DecodePayload(&out); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if out != p {
		t.Fatalf("got %+v want %+v", out, p)
	}
	if out.Code.String() != "Blacklisted" {
		t.Fatalf("unexpected Stringer output: %s", out.Code)
	}
}
