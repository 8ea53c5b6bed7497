package socket

// Options mirrors the spec's SocketOptions configuration surface: a
// required MaxClients plus a set of optional maintenance-task intervals
// that, when non-nil, register the corresponding default task.
type Options struct {
	// MaxClients bounds simultaneous live client records. Default 256 for
	// a server, 1 for a client.
	MaxClients uint16

	// TaskIntervalMs is the scheduler's own tick period: RunTasks(false)
	// is a no-op faster than this.
	TaskIntervalMs uint64

	// SharedIP enables the shared_ip feature flag: IP addresses compare
	// and hash on IP alone, ignoring port.
	SharedIP bool

	ArchiveIntervalMs    *uint64
	BlacklistIntervalMs  *uint64
	ErrorResetIntervalMs *uint64
	DisconnectIntervalMs *uint64
	PingIntervalMs       *uint64
}

func ms(v uint64) *uint64 { return &v }

// DefaultServerOptions returns the recognized defaults for a server role:
// all four maintenance tasks enabled, no ping task (only clients ping).
func DefaultServerOptions() Options {
	return Options{
		MaxClients:           256,
		TaskIntervalMs:       10,
		ArchiveIntervalMs:    ms(10_000),
		BlacklistIntervalMs:  ms(60_000),
		ErrorResetIntervalMs: ms(30_000),
		DisconnectIntervalMs: ms(15_000),
	}
}

// DefaultClientOptions returns the recognized defaults for a client role:
// just the ping task, since a single-peer client view doesn't need
// archive/blacklist/error bookkeeping.
func DefaultClientOptions() Options {
	return Options{
		MaxClients:     1,
		TaskIntervalMs: 10,
		PingIntervalMs: ms(5000),
	}
}
