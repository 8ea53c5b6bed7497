package netid

import "testing"

func TestIPAddrString(t *testing.T) {
	a := IPAddr([]byte{127, 0, 0, 1}, 1000)
	if got, want := a.String(), "127.0.0.1:1000"; got != want {
		t.Fatalf("String: got %q, want %q", got, want)
	}
}

func TestLocalAddrString(t *testing.T) {
	a := LocalAddr(ClientId(7))
	if got, want := a.String(), "local(7)"; got != want {
		t.Fatalf("String: got %q, want %q", got, want)
	}
}

func TestIPAddrEquality(t *testing.T) {
	a := IPAddr([]byte{127, 0, 0, 1}, 1000)
	b := IPAddr([]byte{127, 0, 0, 1}, 1000)
	if a != b {
		t.Fatalf("expected equal ClientAddr values to compare equal")
	}
}
