// Package socket implements the orchestrator: it owns a ClientStorage, a
// Transport and a Scheduler, validates and authenticates inbound
// packets, dispatches control-packet actions, enforces the error budget
// and blacklist, and exposes send/recv to the application.
//
// The overall shape — one type owning every subsystem and driving them
// from a handful of entry points — follows main.go and
// collector/collector.go's "own the loop" style; the admission,
// validation and control-packet tables are grounded on
// original_source/src/net/socket.rs (referenced indirectly through its
// local.rs/task.rs/error.rs siblings read this session) and on spec
// section 4.F directly, since socket.rs itself predates several of the
// invariants (error budget, blacklist, protocol version) this system
// adds on top of that source.
package socket

import (
	"errors"
	"log"
	"time"

	"github.com/embergate/netcore/clientstore"
	"github.com/embergate/netcore/netid"
	"github.com/embergate/netcore/netmetrics"
	"github.com/embergate/netcore/packet"
	"github.com/embergate/netcore/scheduler"
	"github.com/embergate/netcore/transport"
)

// DefaultPingIntervalMs is offered to a newly admitted client in the
// server's Connect reply.
const DefaultPingIntervalMs = 5000

// Socket is the orchestrator. It is not internally synchronized; the
// caller owns exclusive access, matching the single-threaded cooperative
// model the whole package assumes.
type Socket struct {
	id         netid.ClientId
	isServer   bool
	remote     bool
	idOffset   netid.ClientId
	invalidID  netid.ClientId
	serverAddr *netid.ClientAddr
	addrLabel  string

	storage   *clientstore.ClientStorage
	transport transport.Transport
	scheduler *scheduler.Scheduler
	opts      Options

	tickPeriod  time.Duration
	nextTick    time.Time
	lastTaskErr error
}

// New constructs a Socket over tr. serverAddr nil means server role;
// non-nil means client role, pointing at the peer to authenticate
// against. addrLabel is a human-readable label for Addr(), e.g. a bind
// address or "local".
func New(tr transport.Transport, opts Options, serverAddr *netid.ClientAddr, addrLabel string) (*Socket, error) {
	isServer := serverAddr == nil
	idOffset := netid.ClientId(0)
	startID := netid.Invalid
	if isServer {
		idOffset = 1
		startID = netid.Server
	}

	storage, err := clientstore.New(idOffset, opts.MaxClients, netid.Invalid, opts.SharedIP)
	if err != nil {
		return nil, ErrStorageError(err.Error())
	}

	_, remote := tr.(*transport.UDP)

	s := &Socket{
		id:         startID,
		isServer:   isServer,
		remote:     remote,
		idOffset:   idOffset,
		invalidID:  netid.Invalid,
		serverAddr: serverAddr,
		addrLabel:  addrLabel,
		storage:    storage,
		transport:  tr,
		scheduler:  scheduler.New(0),
		opts:       opts,
		tickPeriod: time.Duration(opts.TaskIntervalMs) * time.Millisecond,
	}
	s.registerDefaultTasks()
	return s, nil
}

// NewLocalPair builds a connected server/client pair sharing an
// in-process transport, the way a single-process smoke test or a --solo
// run mode wants.
func NewLocalPair(serverOpts, clientOpts Options) (server *Socket, client *Socket, err error) {
	serverTr, clientTr := transport.NewLocalPair(netid.Server, netid.Invalid)

	server, err = New(serverTr, serverOpts, nil, "local")
	if err != nil {
		return nil, nil, err
	}
	addr := netid.LocalAddr(netid.Server)
	client, err = New(clientTr, clientOpts, &addr, "local")
	if err != nil {
		return nil, nil, err
	}
	return server, client, nil
}

// ID returns this socket's own ClientId (0 for a server, the
// server-assigned id once connected for a client, invalid before that).
func (s *Socket) ID() netid.ClientId { return s.id }

// Addr returns this socket's human-readable local address label.
func (s *Socket) Addr() string { return s.addrLabel }

// ServerAddr returns the address this client talks to, if it is one.
func (s *Socket) ServerAddr() (netid.ClientAddr, bool) {
	if s.serverAddr == nil {
		return netid.ClientAddr{}, false
	}
	return *s.serverAddr, true
}

// IsServer reports whether this socket is acting as a server.
func (s *Socket) IsServer() bool { return s.isServer }

// IsRemote reports whether this socket's transport is UDP rather than the
// in-process queue.
func (s *Socket) IsRemote() bool { return s.remote }

// RemoteIDs lists every currently admitted peer's ClientId.
func (s *Socket) RemoteIDs() []netid.ClientId { return s.storage.RemoteIDs() }

// LastSequenceID returns id's last-sent sequence number.
func (s *Socket) LastSequenceID(id netid.ClientId) (uint16, bool) {
	return s.storage.GetSequence(id)
}

// ExpiredClients lists ids whose last ping is older than timeout.
func (s *Socket) ExpiredClients(timeout time.Duration) []netid.ClientId {
	return s.storage.ExpiredClients(timeout, time.Now())
}

// RegisterTask adds a named periodic callback to the scheduler. Each run
// is timed and observed under its task name so TaskLatencyHistogram
// reflects every registered task, default or caller-supplied alike.
func (s *Socket) RegisterTask(name string, period time.Duration, fn func(*Socket)) {
	s.scheduler.Register(scheduler.NewTask(name, period, func() {
		start := time.Now()
		fn(s)
		netmetrics.TaskLatencyHistogram.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}))
}

// RunTasks drives the scheduler. It is a no-op unless force is set or
// the tick period has elapsed since the last run. While tasks execute,
// the scheduler is detached from the socket so a task cannot re-enter
// RunTasks and recurse into the list it is itself iterating.
func (s *Socket) RunTasks(force bool) error {
	now := time.Now()
	if !force && now.Before(s.nextTick) {
		return nil
	}
	s.nextTick = now.Add(s.tickPeriod)

	tasks := s.scheduler.Detach()
	running := scheduler.New(0)
	running.Attach(tasks)

	s.lastTaskErr = nil
	running.Run(now)
	s.scheduler.Attach(running.Detach())

	err := s.lastTaskErr
	s.lastTaskErr = nil
	return err
}

func (s *Socket) registerDefaultTasks() {
	if v := s.opts.ArchiveIntervalMs; v != nil {
		period := time.Duration(*v) * time.Millisecond
		s.RegisterTask("archive", period, func(sock *Socket) {
			sock.storage.TaskDrainArchive(period, time.Now())
		})
	}
	if v := s.opts.BlacklistIntervalMs; v != nil {
		period := time.Duration(*v) * time.Millisecond
		s.RegisterTask("blacklist", period, func(sock *Socket) {
			sock.storage.TaskDrainBlacklist(period, time.Now())
		})
	}
	if v := s.opts.ErrorResetIntervalMs; v != nil {
		period := time.Duration(*v) * time.Millisecond
		s.RegisterTask("error reset", period, func(sock *Socket) {
			sock.storage.TaskResetErrors(period, time.Now())
		})
	}
	if v := s.opts.DisconnectIntervalMs; v != nil {
		period := time.Duration(*v) * time.Millisecond
		s.RegisterTask("expired", period, func(sock *Socket) {
			for _, id := range sock.storage.ExpiredClients(period, time.Now()) {
				if sock.isServer {
					if err := sock.DisconnectClient(id, true); err != nil {
						log.Printf("socket: expired-task disconnect of %s: %v", id, err)
					}
					continue
				}
				sock.lastTaskErr = ErrDisconnected()
			}
		})
	}
	if v := s.opts.PingIntervalMs; v != nil && !s.isServer {
		period := time.Duration(*v) * time.Millisecond
		s.RegisterTask("ping", period, func(sock *Socket) {
			pkt := packet.New(packet.LabelPing, sock.id)
			pkt.SetPayload(packet.PingPayload{
				Ts:      time.Since(time.Unix(0, 0)),
				Respond: true,
			})
			if err := sock.Send(netid.Server, pkt); err != nil && !errors.Is(err, ErrNothingToDo()) {
				sock.lastTaskErr = err
			}
		})
	}
}

// DisconnectClient archives id's record. If notify, a Disconnect packet
// is sent to it first. Non-server callers get NothingToDo.
func (s *Socket) DisconnectClient(id netid.ClientId, notify bool) error {
	if !s.isServer {
		return ErrNothingToDo()
	}
	if notify {
		pkt := packet.New(packet.LabelDisconnect, s.id)
		if err := s.Send(id, pkt); err != nil {
			log.Printf("socket: disconnect notify to %s: %v", id, err)
		}
	}
	if err := s.storage.ArchiveClient(id, time.Now()); err != nil {
		return ErrStorageError(err.Error())
	}
	return nil
}

// Send stamps and routes a packet addressed to `to`.
func (s *Socket) Send(to netid.ClientId, e packet.Envelope) error {
	if to == s.id && e.Label != packet.LabelConnect {
		return ErrNothingToDo()
	}

	if e.Source != s.invalidID || e.Label != packet.LabelConnect {
		seq, ok := s.storage.IncrementSequence(to)
		if !ok {
			addr, _ := s.storage.GetAddr(to)
			return ErrNotConnected(addr)
		}
		e.Sequence = seq
	}

	if addr, ok := s.storage.GetAddr(to); ok {
		return s.sendVia(addr, e)
	}
	if !s.isServer {
		return s.sendVia(*s.serverAddr, e)
	}
	if !s.remote && to == s.invalidID {
		return s.sendVia(netid.LocalAddr(netid.Server), e)
	}
	return ErrNotConnected(netid.ClientAddr{})
}

// SendErr builds an Error packet and sends it directly via the
// transport, bypassing Send so an unadmitted peer can still be told why
// it was rejected.
func (s *Socket) SendErr(toAddr netid.ClientAddr, code packet.ErrorCode, message string) error {
	e := packet.New(packet.LabelError, s.id)
	e.SetPayload(packet.ErrorPayload{Code: code, Message: message})
	if id, ok := s.storage.GetID(toAddr); ok {
		if seq, ok := s.storage.IncrementSequence(id); ok {
			e.Sequence = seq
		}
	}
	return s.sendVia(toAddr, e)
}

func (s *Socket) sendVia(addr netid.ClientAddr, e packet.Envelope) error {
	if err := s.transport.Send(addr, e); err != nil {
		return ErrSocketError(err.Error())
	}
	netmetrics.PacketIOHistogram.WithLabelValues("send").Observe(float64(packet.MinEnvelopeSize + len(e.Payload)))
	return nil
}

// TryRecv polls the transport once, validating and dispatching whatever
// arrives.
func (s *Socket) TryRecv() (packet.Envelope, error) {
	addr, env, ok, err := s.transport.TryRecv()
	if !ok {
		if err != nil {
			return packet.Envelope{}, s.classifyTransportErr(err)
		}
		return packet.Envelope{}, ErrNothingToDo()
	}
	if err != nil {
		return packet.Envelope{}, s.handleInvalidPacketErr(ErrInvalidPacket(addr, PayloadHeader, err.Error()))
	}
	return s.process(addr, env)
}

// Recv blocks until the transport yields a datagram, then validates and
// dispatches it.
func (s *Socket) Recv() (packet.Envelope, error) {
	addr, env, err := s.transport.Recv()
	if err != nil {
		if errors.Is(err, packet.ErrHeaderTooShort) {
			return packet.Envelope{}, s.handleInvalidPacketErr(ErrInvalidPacket(addr, PayloadHeader, err.Error()))
		}
		return packet.Envelope{}, s.classifyTransportErr(err)
	}
	return s.process(addr, env)
}

func (s *Socket) classifyTransportErr(err error) error {
	if errors.Is(err, transport.ErrDisconnected) {
		return ErrDisconnected()
	}
	return ErrSocketError(err.Error())
}

func (s *Socket) process(addr netid.ClientAddr, env packet.Envelope) (packet.Envelope, error) {
	if err := s.validate(addr, &env); err != nil {
		return packet.Envelope{}, s.handleInvalidPacketErr(err)
	}
	if err := s.packetActions(&env, addr); err != nil {
		return packet.Envelope{}, s.handleInvalidPacketErr(err)
	}
	netmetrics.PacketIOHistogram.WithLabelValues("recv").Observe(float64(packet.MinEnvelopeSize + len(env.Payload)))
	return env, nil
}

// validate implements the admission (4.F.3) and validation (4.F.4)
// rules: it either authenticates an unattributed Connect, resolves a
// known peer's cached id, or rejects the packet.
func (s *Socket) validate(addr netid.ClientAddr, env *packet.Envelope) error {
	if s.storage.IsBlacklisted(addr) {
		if env.Source == s.invalidID && env.Label == packet.LabelConnect {
			if sErr := s.SendErr(addr, packet.ErrorBlacklisted, "address is blacklisted"); sErr != nil {
				log.Printf("socket: send Blacklisted to %s: %v", addr, sErr)
			}
		}
		return ErrNothingToDo()
	}

	if env.Source == s.invalidID {
		if env.Label == packet.LabelConnect {
			// The version check happens here, before admission, so that a
			// version mismatch never leaves a live record behind: only a
			// payload that passes this check reaches storage.Add.
			var payload packet.ConnectionPayload
			if err := env.DecodePayload(&payload); err != nil {
				return ErrInvalidPacket(addr, PayloadPayload, err.Error())
			}
			if payload.Version != packet.ProtocolVersion {
				return ErrInvalidPacket(addr, PayloadVersion, "unsupported protocol version")
			}
			return s.admit(addr, env)
		}
		if !s.remote {
			return ErrNotConnected(addr)
		}
		if id, ok := s.storage.GetID(addr); ok {
			env.Source = id
			return nil
		}
		return ErrNotConnected(addr)
	}

	if !s.isServer {
		// Clients only ever talk to one server address; nothing to check.
		return nil
	}

	if !s.remote {
		// The in-process transport pairs exactly one real peer with this
		// Socket; admit assigns it a synthetic Local(id) storage key that
		// never equals the wire-level addr (always the peer's fixed self
		// address), so the address cross-check below doesn't apply here.
		// A claimed id that still has a live entry is trusted outright.
		if _, ok := s.storage.GetAddr(env.Source); ok {
			return nil
		}
		return ErrNotConnected(addr)
	}

	if cachedID, ok := s.storage.GetID(addr); ok {
		if cachedID == env.Source {
			return nil
		}
		return ErrInvalidPacket(addr, PayloadSource, "address resolves to a different id than claimed")
	}
	if cachedAddr, ok := s.storage.GetAddr(env.Source); ok {
		if cachedAddr == s.storage.Normalize(addr) {
			return nil
		}
		return ErrInvalidPacket(addr, PayloadSource, "claimed id resolves to a different address")
	}
	return ErrNotConnected(addr)
}

// admit handles a Connect arriving with no attributed source, creating a
// live record when possible and replying with the appropriate rejection
// otherwise.
func (s *Socket) admit(addr netid.ClientAddr, env *packet.Envelope) error {
	admitAddr := addr
	if !s.remote {
		// The in-process transport carries no meaningful peer address of
		// its own; assign a fresh Local(id) identity for the new peer.
		if nextID, ok := s.storage.NextID(); ok {
			admitAddr = netid.LocalAddr(nextID)
		}
	}

	id, err := s.storage.Add(admitAddr, time.Now())
	switch {
	case err == nil:
		env.Source = id
		netmetrics.AdmissionCount.Inc()
		netmetrics.ConnectedClientsGauge.Set(float64(len(s.storage.RemoteIDs())))
		return nil
	case errors.Is(err, clientstore.ErrAtCapacity):
		netmetrics.RejectedAdmissionCount.WithLabelValues("at_capacity").Inc()
		if sErr := s.SendErr(addr, packet.ErrorTooManyConnections, "server is full"); sErr != nil {
			log.Printf("socket: send TooManyConnections to %s: %v", addr, sErr)
		}
		return ErrNothingToDo()
	case errors.Is(err, clientstore.ErrClientExists):
		netmetrics.RejectedAdmissionCount.WithLabelValues("client_exists").Inc()
		if sErr := s.SendErr(addr, packet.ErrorTooManyConnections, "one connection per IP"); sErr != nil {
			log.Printf("socket: send TooManyConnections to %s: %v", addr, sErr)
		}
		return ErrNothingToDo()
	case errors.Is(err, clientstore.ErrBlacklisted):
		netmetrics.RejectedAdmissionCount.WithLabelValues("blacklisted").Inc()
		if sErr := s.SendErr(addr, packet.ErrorBlacklisted, "address is blacklisted"); sErr != nil {
			log.Printf("socket: send Blacklisted to %s: %v", addr, sErr)
		}
		return ErrNothingToDo()
	default:
		return ErrStorageError(err.Error())
	}
}

// packetActions implements the label-specific table in 4.F.5.
func (s *Socket) packetActions(env *packet.Envelope, addr netid.ClientAddr) error {
	switch env.Label {
	case packet.LabelConnect:
		return s.handleConnect(env, addr)
	case packet.LabelDisconnect:
		if err := s.storage.ArchiveClient(env.Source, time.Now()); err != nil {
			return ErrStorageError(err.Error())
		}
		return nil
	case packet.LabelPing:
		return s.handlePing(env, addr)
	case packet.LabelError:
		return s.handleError(env, addr)
	default:
		// Acknowledge, Message, and any Extension label: no internal
		// action, the caller inspects the payload itself.
		return nil
	}
}

// handleConnect decodes the Connect payload and rejects an unsupported
// protocol version, then builds the reply (server) or records the
// assigned id and the peer (client). On a server, validate has already
// made the same checks before admission; on a client, whose validate
// skips them, this is the only place a Connect reply is checked.
func (s *Socket) handleConnect(env *packet.Envelope, addr netid.ClientAddr) error {
	var payload packet.ConnectionPayload
	if err := env.DecodePayload(&payload); err != nil {
		return ErrInvalidPacket(addr, PayloadPayload, err.Error())
	}
	if payload.Version != packet.ProtocolVersion {
		return ErrInvalidPacket(addr, PayloadVersion, "unsupported protocol version")
	}

	if s.isServer {
		reply := packet.New(packet.LabelConnect, s.id)
		reply.SetPayload(packet.ConnectionPayload{
			Version:        packet.ProtocolVersion,
			AssignedID:     env.Source,
			PingIntervalMs: DefaultPingIntervalMs,
		})
		return s.Send(env.Source, reply)
	}

	s.id = payload.AssignedID
	if err := s.storage.Insert(env.Source, addr, time.Now()); err != nil {
		return ErrStorageError(err.Error())
	}
	return nil
}

func (s *Socket) handlePing(env *packet.Envelope, addr netid.ClientAddr) error {
	var payload packet.PingPayload
	if err := env.DecodePayload(&payload); err != nil {
		return ErrInvalidPacket(addr, PayloadPayload, err.Error())
	}
	s.storage.SetPing(env.Source, time.Now())
	if !payload.Respond {
		return nil
	}
	reply := packet.New(packet.LabelPing, s.id)
	reply.SetPayload(packet.PingPayload{Ts: payload.Ts, Respond: false})
	return s.Send(env.Source, reply)
}

func (s *Socket) handleError(env *packet.Envelope, addr netid.ClientAddr) error {
	if s.isServer {
		return nil
	}
	var payload packet.ErrorPayload
	if err := env.DecodePayload(&payload); err != nil {
		return ErrInvalidPacket(addr, PayloadPayload, err.Error())
	}
	if payload.Code == packet.ErrorTooManyConnections || payload.Code == packet.ErrorBlacklisted {
		return ErrSocketError(payload.Message)
	}
	return nil
}

// handleInvalidPacketErr implements the error-budget and blacklist
// promotion in 4.F.6. It only acts on InvalidPacket errors; everything
// else passes through unchanged.
func (s *Socket) handleInvalidPacketErr(err error) error {
	se, ok := err.(*Error)
	if !ok || se.Kind != KindInvalidPacket {
		return err
	}
	if !s.isServer {
		return err
	}
	if s.storage.IsBlacklisted(se.Addr) {
		return err
	}

	netmetrics.ErrorCount.WithLabelValues("invalid_packet").Inc()
	count := s.storage.ClientErr(se.Addr, time.Now())
	if count <= 5 {
		return err
	}

	if id, ok := s.storage.GetID(se.Addr); ok {
		if err := s.storage.BlacklistClient(id, se.Addr, time.Now()); err != nil {
			log.Printf("socket: blacklist client %v: %v", id, err)
		}
	} else {
		s.storage.BlacklistClientAddr(se.Addr, time.Now())
	}
	netmetrics.BlacklistCount.Inc()
	return ErrNothingToDo()
}
