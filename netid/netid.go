// Package netid defines the identity types shared by every other package:
// the external numeric ClientId and the transport-level ClientAddr tagged
// union. Keeping these in one small package avoids an import cycle between
// packet, clientstore, transport and socket, all of which need to name a
// peer.
package netid

import (
	"fmt"
	"net"
)

// ClientId is the external 16-bit identifier assigned to an admitted peer.
type ClientId uint16

// Invalid is the sentinel meaning "unassigned". It is the all-ones value.
const Invalid ClientId = 0xFFFF

// Server is the fixed id of the server endpoint itself.
const Server ClientId = 0

func (c ClientId) String() string {
	if c == Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint16(c))
}

// AddrKind distinguishes the two ClientAddr variants.
type AddrKind uint8

const (
	// AddrLocal identifies an in-process peer by ClientId alone.
	AddrLocal AddrKind = iota
	// AddrIP identifies a UDP peer by IP and port.
	AddrIP
)

// ClientAddr is the tagged union {Local(ClientId) | Ip(IpAddr, Port)}.
// IP is stored as a fixed 16-byte array (not net.IP, which is a slice and
// therefore not comparable) so that ClientAddr itself can be used directly
// as a map key.
type ClientAddr struct {
	Kind  AddrKind
	Local ClientId
	IP    [16]byte
	Port  uint16
}

// LocalAddr builds a ClientAddr for the in-process transport.
func LocalAddr(id ClientId) ClientAddr {
	return ClientAddr{Kind: AddrLocal, Local: id}
}

// IPAddr builds a ClientAddr for the UDP transport. ip may be a 4- or
// 16-byte net.IP; it is normalized to its 16-byte form.
func IPAddr(ip []byte, port uint16) ClientAddr {
	var a ClientAddr
	a.Kind = AddrIP
	a.Port = port
	if len(ip) == 4 {
		copy(a.IP[12:], ip)
		a.IP[10], a.IP[11] = 0xff, 0xff // v4-in-v6 mapping, matches net.IP.To16
	} else {
		copy(a.IP[:], ip)
	}
	return a
}

func (a ClientAddr) String() string {
	switch a.Kind {
	case AddrLocal:
		return fmt.Sprintf("local(%s)", a.Local)
	case AddrIP:
		ip := net.IP(a.IP[:])
		return fmt.Sprintf("%s:%d", ip, a.Port)
	default:
		return "unknown-addr"
	}
}

// Normalized returns the key to use for equality/hashing purposes. When
// sharedIP is true, an IP-kind address ignores its port, so two peers
// behind the same NATted IP collapse onto the same storage entry.
func (a ClientAddr) Normalized(sharedIP bool) ClientAddr {
	if sharedIP && a.Kind == AddrIP {
		a.Port = 0
	}
	return a
}
