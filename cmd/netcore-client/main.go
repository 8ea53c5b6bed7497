// Command netcore-client connects a client-role Socket to a remote
// netcore-server over UDP, runs the handshake and ping task, and prints
// received Message/Ping-RTT lines to stdout until disconnected or
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/packet"
	"github.com/embergate/netcore/socket"
	"github.com/embergate/netcore/transport"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	serverAddr = flag.String("server", transport.DefaultServerAddr, "Server UDP address to connect to")
	bindAddr   = flag.String("bind", transport.DefaultClientAddr, "Local UDP address to bind")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	tr, err := transport.ListenUDP(*bindAddr)
	rtx.Must(err, "Could not bind %s", *bindAddr)
	defer tr.Close()

	raddr, err := net.ResolveUDPAddr("udp", *serverAddr)
	rtx.Must(err, "Could not resolve %s", *serverAddr)
	server := netid.IPAddr(raddr.IP, uint16(raddr.Port))

	cl, err := socket.New(tr, socket.DefaultClientOptions(), &server, tr.LocalAddr().String())
	rtx.Must(err, "Could not construct client socket")

	connect := packet.New(packet.LabelConnect, netid.Invalid)
	connect.SetPayload(packet.ConnectionPayload{Version: packet.ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: socket.DefaultPingIntervalMs})
	rtx.Must(cl.Send(netid.Server, connect), "Could not send Connect")
	log.Printf("netcore-client: connecting to %s", *serverAddr)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("ok")
			return
		case <-ticker.C:
			if !pump(cl) {
				fmt.Println("disconnected")
				return
			}
			if err := cl.RunTasks(false); err != nil {
				if se, ok := err.(*socket.Error); ok && se.Kind == socket.KindDisconnected {
					fmt.Println("disconnected")
					return
				}
				log.Printf("netcore-client: task error: %v", err)
			}
		}
	}
}

// pump drains whatever is pending this tick. It returns false only on a
// fatal SocketError (the server told us TooManyConnections/Blacklisted),
// matching the spec's "client terminates with a fatal message" rule.
func pump(cl *socket.Socket) bool {
	for {
		env, err := cl.TryRecv()
		if err != nil {
			se, ok := err.(*socket.Error)
			if ok && se.Kind == socket.KindNothingToDo {
				return true
			}
			if ok && se.Kind == socket.KindSocketError {
				log.Printf("netcore-client: fatal: %v", err)
				return false
			}
			log.Printf("netcore-client: recv error: %v", err)
			return true
		}
		switch env.Label {
		case packet.LabelConnect:
			log.Printf("netcore-client: assigned id %v", cl.ID())
		case packet.LabelPing:
			var p packet.PingPayload
			if derr := env.DecodePayload(&p); derr == nil && !p.Respond {
				rtt := time.Since(time.Unix(0, 0)) - p.Ts
				fmt.Printf("ping rtt=%s\n", rtt)
			}
		case packet.LabelMessage:
			var m packet.MessagePayload
			if derr := env.DecodePayload(&m); derr == nil {
				fmt.Println(m.Text)
			}
		}
	}
}
