// Command netcore-server runs a server-role Socket. By default it binds
// a UDP port; with --solo (or --local) it instead pairs with a single
// in-process client via Socket.NewLocalPair, for smoke testing without a
// second process or a real port.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
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
	listen     = flag.String("listen", transport.DefaultServerAddr, "UDP address to bind")
	maxClients = flag.Uint("max-clients", 256, "Maximum simultaneous live client records")
	promAddr   = flag.String("prom", ":9090", "Prometheus metrics export address and port")
	solo       = flag.Bool("solo", false, "Run a paired in-process client instead of binding UDP")
	local      = flag.Bool("local", false, "Alias for --solo")

	archiveIntervalMs    = flag.Uint64("archive-interval-ms", 10_000, "Archive-drain task period")
	blacklistIntervalMs  = flag.Uint64("blacklist-interval-ms", 60_000, "Blacklist-drain task period")
	errorResetIntervalMs = flag.Uint64("error-reset-interval-ms", 30_000, "Error-budget reset task period")
	disconnectIntervalMs = flag.Uint64("disconnect-interval-ms", 15_000, "Expired-client disconnect task period")

	tickPeriod = 10 * time.Millisecond
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

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	opts := socket.DefaultServerOptions()
	opts.MaxClients = uint16(*maxClients)
	opts.ArchiveIntervalMs = archiveIntervalMs
	opts.BlacklistIntervalMs = blacklistIntervalMs
	opts.ErrorResetIntervalMs = errorResetIntervalMs
	opts.DisconnectIntervalMs = disconnectIntervalMs

	if *solo || *local {
		runSolo(ctx, opts)
		return
	}
	runUDP(ctx, opts)
}

// runSolo pairs a server-role Socket with a single in-process client over
// Socket.NewLocalPair, the spec's §6 "--solo/--local" smoke-test mode.
func runSolo(ctx context.Context, serverOpts socket.Options) {
	srv, client, err := socket.NewLocalPair(serverOpts, socket.DefaultClientOptions())
	rtx.Must(err, "Could not build local pair")

	connect := packet.New(packet.LabelConnect, netid.Invalid)
	connect.SetPayload(packet.ConnectionPayload{Version: packet.ProtocolVersion, AssignedID: netid.Invalid, PingIntervalMs: socket.DefaultPingIntervalMs})
	rtx.Must(client.Send(netid.Server, connect), "client could not send Connect")
	log.Println("netcore-server: solo mode, local client connecting")

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("netcore-server: solo smoke test shutting down")
			return
		case <-ticker.C:
			drain(srv, "server")
			drain(client, "client")
			if err := srv.RunTasks(false); err != nil {
				log.Printf("netcore-server: server tasks: %v", err)
			}
			if err := client.RunTasks(false); err != nil {
				log.Printf("netcore-server: solo client tasks: %v", err)
				return
			}
		}
	}
}

// runUDP binds *listen and drives a server-role Socket over it until
// cancelled.
func runUDP(ctx context.Context, opts socket.Options) {
	tr, err := transport.ListenUDP(*listen)
	rtx.Must(err, "Could not bind %s", *listen)
	defer tr.Close()

	srv, err := socket.New(tr, opts, nil, *listen)
	rtx.Must(err, "Could not construct server socket")

	log.Printf("netcore-server: listening on %s, max-clients=%d", *listen, opts.MaxClients)
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("netcore-server: shutting down")
			return
		case <-ticker.C:
			drain(srv, "server")
			if err := srv.RunTasks(false); err != nil {
				log.Printf("netcore-server: tasks: %v", err)
			}
		}
	}
}

// drain empties whatever is pending on who's transport this tick, logging
// admission and disconnection traffic. A single misbehaving peer never
// stops the loop: every non-NothingToDo error is logged and swallowed.
func drain(s *socket.Socket, who string) {
	for {
		env, err := s.TryRecv()
		if err != nil {
			if se, ok := err.(*socket.Error); ok && se.Kind == socket.KindNothingToDo {
				return
			}
			log.Printf("netcore-server: %s recv: %v", who, err)
			return
		}
		switch env.Label {
		case packet.LabelConnect:
			log.Printf("netcore-server: %s: Connect from id %v", who, env.Source)
		case packet.LabelDisconnect:
			log.Printf("netcore-server: %s: Disconnect from id %v", who, env.Source)
		default:
			log.Printf("netcore-server: %s: %s from id %v seq %d", who, env.Label, env.Source, env.Sequence)
		}
	}
}
