package transport

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
)

// DefaultServerAddr is the well-known default bind address for a server
// role.
const DefaultServerAddr = "127.0.0.1:31013"

// DefaultClientAddr lets the OS pick an ephemeral port for a client role.
const DefaultClientAddr = "0.0.0.0:0"

// recvBufferSize bounds a single inbound datagram, per the wire format's
// MTU assumption.
const recvBufferSize = 1024

// UDP is the nonblocking-capable datagram transport. One bound socket is
// toggled between nonblocking (TryRecv) and blocking (Recv) by reaching
// through SyscallConn to the raw file descriptor, the same syscall-level
// comfort the teacher shows in its netlink/inetdiag packages, just
// applied here through golang.org/x/sys/unix instead of unsafe pointer
// casts.
type UDP struct {
	conn *net.UDPConn
	buf  [recvBufferSize]byte

	// nonblock tracks the socket's last-set mode so repeated TryRecv polls
	// in a tick loop don't pay the SyscallConn/SetNonblock syscalls when
	// the mode hasn't changed since the previous call.
	nonblockSet bool
	nonblock    bool
}

// ListenUDP binds laddr (use DefaultServerAddr/DefaultClientAddr when the
// caller has no preference) and returns a ready UDP transport.
func ListenUDP(laddr string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) setNonblock(nb bool) error {
	if u.nonblockSet && u.nonblock == nb {
		return nil
	}
	raw, err := u.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetNonblock(int(fd), nb)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if sockErr == nil {
		u.nonblockSet = true
		u.nonblock = nb
	}
	return sockErr
}

// Send writes e to dest via sendto. dest must be an IP-kind address.
func (u *UDP) Send(dest netid.ClientAddr, e packet.Envelope) error {
	if dest.Kind != netid.AddrIP {
		return errors.New("transport: udp send requires an IP address")
	}
	raddr := &net.UDPAddr{IP: append(net.IP(nil), dest.IP[:]...), Port: int(dest.Port)}
	_, err := u.conn.WriteToUDP(packet.Encode(e), raddr)
	return err
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// TryRecv toggles the socket nonblocking and reads once.
func (u *UDP) TryRecv() (netid.ClientAddr, packet.Envelope, bool, error) {
	if err := u.setNonblock(true); err != nil {
		return netid.ClientAddr{}, packet.Envelope{}, false, err
	}
	n, raddr, err := u.conn.ReadFromUDP(u.buf[:])
	if err != nil {
		if isWouldBlock(err) {
			return netid.ClientAddr{}, packet.Envelope{}, false, nil
		}
		return netid.ClientAddr{}, packet.Envelope{}, false, err
	}
	return u.decode(raddr, n)
}

// Recv toggles the socket blocking and reads once, waiting for data.
func (u *UDP) Recv() (netid.ClientAddr, packet.Envelope, error) {
	if err := u.setNonblock(false); err != nil {
		return netid.ClientAddr{}, packet.Envelope{}, err
	}
	n, raddr, err := u.conn.ReadFromUDP(u.buf[:])
	if err != nil {
		return netid.ClientAddr{}, packet.Envelope{}, err
	}
	addr, env, _, derr := u.decode(raddr, n)
	return addr, env, derr
}

func (u *UDP) decode(raddr *net.UDPAddr, n int) (netid.ClientAddr, packet.Envelope, bool, error) {
	addr := netid.IPAddr(raddr.IP, uint16(raddr.Port))
	env, err := packet.Decode(u.buf[:n])
	if err != nil {
		// Parse failure: surfaced with the peer address attached so the
		// caller can charge it against that peer's error budget.
		return addr, packet.Envelope{}, true, err
	}
	return addr, env, true, nil
}

// Close releases the underlying socket.
func (u *UDP) Close() error { return u.conn.Close() }

// LocalAddr reports the bound address, useful for logging the ephemeral
// port a client was assigned.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }
