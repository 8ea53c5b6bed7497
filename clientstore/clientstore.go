// Package clientstore implements the bounded, index-recycling client
// directory: a sparse-set keyed by external id, plus the archive,
// blacklist and error-budget caches that drive a peer's lifecycle.
//
// The sparse-set mechanics are new to this package, but the overall
// "one type owns a bounded collection with O(1) add/remove" shape and its
// doc-comment register follow cache/cache.go; the timed-entry semantics
// for archive/blacklist/errors follow original_source's storage.rs Cache.
package clientstore

import (
	"errors"
	"time"

	"github.com/embergate/netcore/netid"
)

// Sentinel errors returned by Add and the constructor. They are not
// packet-level errors; package socket maps them onto its own Error kinds
// at the admission boundary.
var (
	ErrAtCapacity     = errors.New("clientstore: at capacity")
	ErrClientExists   = errors.New("clientstore: client exists")
	ErrBlacklisted    = errors.New("clientstore: address is blacklisted")
	ErrNotFound       = errors.New("clientstore: not found")
	ErrInvalidOptions = errors.New("clientstore: invalid id_offset/max_clients/invalid_id")
)

const sentinelDense = ^uint32(0)

type denseRecord struct {
	addr       netid.ClientAddr
	internalID uint32 // index into sparse, for swap-removal fixup
	seq        uint16
	ping       time.Time
}

type archiveEntry struct {
	internalID uint32
}

// ClientStorage is the bounded directory of admitted peers. It is not
// internally synchronized; callers (package socket) own exclusive access.
type ClientStorage struct {
	idOffset   netid.ClientId
	maxClients uint16
	invalidID  netid.ClientId
	sharedIP   bool

	sparse []uint32       // internalIdx -> dense position, sentinelDense if absent
	dense  []denseRecord  // compact; dense[i].internalID names which sparse slot it fills
	byAddr map[netid.ClientAddr]uint32 // addr -> internalIdx, live entries only

	pool []uint32 // internal indices freed by blacklisting or archive drain, ready for reuse

	archive   *Cache[netid.ClientAddr, archiveEntry]
	blacklist *Cache[netid.ClientAddr, struct{}]
	errors    *Cache[netid.ClientAddr, int]
}

// New constructs a ClientStorage. idOffset is 1 for a server role, 0 for a
// client's single-peer view; maxClients bounds how many live records can
// exist simultaneously; invalidID is the sentinel meaning "unassigned".
func New(idOffset netid.ClientId, maxClients uint16, invalidID netid.ClientId, sharedIP bool) (*ClientStorage, error) {
	if int(idOffset)+int(maxClients) > int(netid.Invalid) {
		return nil, ErrInvalidOptions
	}
	if invalidID >= idOffset && invalidID < idOffset+netid.ClientId(maxClients) {
		return nil, ErrInvalidOptions
	}
	sparse := make([]uint32, maxClients)
	for i := range sparse {
		sparse[i] = sentinelDense
	}
	return &ClientStorage{
		idOffset:   idOffset,
		maxClients: maxClients,
		invalidID:  invalidID,
		sharedIP:   sharedIP,
		sparse:     sparse,
		dense:      make([]denseRecord, 0, maxClients),
		byAddr:     make(map[netid.ClientAddr]uint32, maxClients),
		archive:    NewCache[netid.ClientAddr, archiveEntry](),
		blacklist:  NewCache[netid.ClientAddr, struct{}](),
		errors:     NewCache[netid.ClientAddr, int](),
	}, nil
}

func (s *ClientStorage) key(addr netid.ClientAddr) netid.ClientAddr {
	return addr.Normalized(s.sharedIP)
}

func (s *ClientStorage) idFor(internalIdx uint32) netid.ClientId {
	return s.idOffset + netid.ClientId(internalIdx)
}

func (s *ClientStorage) internalOf(id netid.ClientId) (uint32, bool) {
	if id < s.idOffset {
		return 0, false
	}
	idx := uint32(id - s.idOffset)
	if idx >= uint32(s.maxClients) {
		return 0, false
	}
	return idx, true
}

// Normalize applies the shared_ip feature flag to addr, the way every
// internal lookup does. Callers outside this package (package socket's
// validation path) use it to compare an incoming address against one
// already stored.
func (s *ClientStorage) Normalize(addr netid.ClientAddr) netid.ClientAddr {
	return s.key(addr)
}

// IsBlacklisted reports whether addr is currently refused admission.
func (s *ClientStorage) IsBlacklisted(addr netid.ClientAddr) bool {
	return s.blacklist.Has(s.key(addr))
}

func (s *ClientStorage) liveAt(internalIdx uint32) (*denseRecord, bool) {
	pos := s.sparse[internalIdx]
	if pos == sentinelDense {
		return nil, false
	}
	return &s.dense[pos], true
}

// Add admits addr, returning its newly assigned (or, with sharedIP,
// existing) ClientId.
func (s *ClientStorage) Add(addr netid.ClientAddr, now time.Time) (netid.ClientId, error) {
	k := s.key(addr)

	if s.blacklist.Has(k) {
		return s.invalidID, ErrBlacklisted
	}

	if existingIdx, ok := s.byAddr[k]; ok {
		if s.sharedIP {
			return s.idFor(existingIdx), nil
		}
		return s.invalidID, ErrClientExists
	}

	// An archived addr is graceful-reconnect material, not a conflict: the
	// whole point of the archive is letting the same peer come back and
	// reclaim its former index before the archive-drain task evicts it.
	var internalIdx uint32
	if entry, _, ok := s.archive.Get(k); ok {
		internalIdx = entry.internalID
		s.archive.Delete(k)
	} else if len(s.pool) > 0 {
		internalIdx = s.pool[len(s.pool)-1]
		s.pool = s.pool[:len(s.pool)-1]
	} else if len(s.dense) < int(s.maxClients) {
		internalIdx = uint32(len(s.dense))
	} else {
		return s.invalidID, ErrAtCapacity
	}

	s.insertLive(internalIdx, k, now)
	return s.idFor(internalIdx), nil
}

// insertLive places addr at internalIdx into the dense/sparse structure,
// always appending a new dense slot and pointing sparse[internalIdx] at it.
func (s *ClientStorage) insertLive(internalIdx uint32, addr netid.ClientAddr, now time.Time) {
	rec := denseRecord{addr: addr, internalID: internalIdx, seq: 0, ping: now}
	pos := uint32(len(s.dense))
	s.dense = append(s.dense, rec)
	s.sparse[internalIdx] = pos
	s.byAddr[addr] = internalIdx
}

// Insert unconditionally upserts id -> addr, used on the client side once
// a server-assigned id arrives.
func (s *ClientStorage) Insert(id netid.ClientId, addr netid.ClientAddr, now time.Time) error {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return ErrInvalidOptions
	}
	k := s.key(addr)
	if rec, live := s.liveAt(internalIdx); live {
		delete(s.byAddr, rec.addr)
		rec.addr = k
		rec.ping = now
		s.byAddr[k] = internalIdx
		return nil
	}
	s.insertLive(internalIdx, k, now)
	return nil
}

// removeLive detaches the live entry at internalIdx from dense/sparse/byAddr
// and returns its address. The caller decides where the freed index goes.
func (s *ClientStorage) removeLive(internalIdx uint32) (netid.ClientAddr, bool) {
	pos := s.sparse[internalIdx]
	if pos == sentinelDense {
		return netid.ClientAddr{}, false
	}
	addr := s.dense[pos].addr
	lastPos := uint32(len(s.dense) - 1)
	if pos != lastPos {
		s.dense[pos] = s.dense[lastPos]
		s.sparse[s.dense[pos].internalID] = pos
	}
	s.dense = s.dense[:lastPos]
	s.sparse[internalIdx] = sentinelDense
	delete(s.byAddr, addr)
	return addr, true
}

// ArchiveClient removes id's live entry and remembers its address and
// internal index in the archive cache for possible graceful reconnection.
func (s *ClientStorage) ArchiveClient(id netid.ClientId, now time.Time) error {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return ErrNotFound
	}
	addr, ok := s.removeLive(internalIdx)
	if !ok {
		return ErrNotFound
	}
	s.archive.Set(addr, archiveEntry{internalID: internalIdx}, now)
	return nil
}

// BlacklistClient removes id's live or archived entry (if any), pushes its
// internal index to the reuse pool, and blacklists addr.
func (s *ClientStorage) BlacklistClient(id netid.ClientId, addr netid.ClientAddr, now time.Time) error {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return ErrNotFound
	}
	if _, live := s.removeLive(internalIdx); !live {
		k := s.key(addr)
		if entry, _, ok := s.archive.Get(k); ok {
			s.archive.Delete(k)
			internalIdx = entry.internalID
		}
	}
	s.pool = append(s.pool, internalIdx)
	s.blacklist.Set(s.key(addr), struct{}{}, now)
	return nil
}

// BlacklistClientAddr blacklists addr directly, for peers that never
// reached a live or archived record (pure error-budget exhaustion before
// admission).
func (s *ClientStorage) BlacklistClientAddr(addr netid.ClientAddr, now time.Time) {
	k := s.key(addr)
	if internalIdx, ok := s.byAddr[k]; ok {
		s.removeLive(internalIdx)
		s.pool = append(s.pool, internalIdx)
	} else if entry, _, ok := s.archive.Get(k); ok {
		s.archive.Delete(k)
		s.pool = append(s.pool, entry.internalID)
	}
	s.blacklist.Set(k, struct{}{}, now)
}

// ClientErr increments addr's error counter and returns the new count.
func (s *ClientStorage) ClientErr(addr netid.ClientAddr, now time.Time) int {
	k := s.key(addr)
	count, _, _ := s.errors.Get(k)
	count++
	s.errors.Set(k, count, now)
	return count
}

// GetErrors returns addr's current error count.
func (s *ClientStorage) GetErrors(addr netid.ClientAddr) int {
	count, _, _ := s.errors.Get(s.key(addr))
	return count
}

// GetID returns the id bound to addr, if any.
func (s *ClientStorage) GetID(addr netid.ClientAddr) (netid.ClientId, bool) {
	idx, ok := s.byAddr[s.key(addr)]
	if !ok {
		return s.invalidID, false
	}
	return s.idFor(idx), true
}

// GetAddr returns the address bound to id, if live.
func (s *ClientStorage) GetAddr(id netid.ClientId) (netid.ClientAddr, bool) {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return netid.ClientAddr{}, false
	}
	rec, live := s.liveAt(internalIdx)
	if !live {
		return netid.ClientAddr{}, false
	}
	return rec.addr, true
}

// GetSequence returns id's last-sent sequence number.
func (s *ClientStorage) GetSequence(id netid.ClientId) (uint16, bool) {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return 0, false
	}
	rec, live := s.liveAt(internalIdx)
	if !live {
		return 0, false
	}
	return rec.seq, true
}

// IncrementSequence wrapping-increments id's sequence counter and returns
// the new value, for stamping into an outbound packet.
func (s *ClientStorage) IncrementSequence(id netid.ClientId) (uint16, bool) {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return 0, false
	}
	rec, live := s.liveAt(internalIdx)
	if !live {
		return 0, false
	}
	rec.seq++
	return rec.seq, true
}

// GetPing returns id's last-seen-ping instant.
func (s *ClientStorage) GetPing(id netid.ClientId) (time.Time, bool) {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return time.Time{}, false
	}
	rec, live := s.liveAt(internalIdx)
	if !live {
		return time.Time{}, false
	}
	return rec.ping, true
}

// SetPing updates id's last-seen-ping instant.
func (s *ClientStorage) SetPing(id netid.ClientId, at time.Time) bool {
	internalIdx, ok := s.internalOf(id)
	if !ok {
		return false
	}
	rec, live := s.liveAt(internalIdx)
	if !live {
		return false
	}
	rec.ping = at
	return true
}

// AddrIter returns every live address, in no particular order.
func (s *ClientStorage) AddrIter() []netid.ClientAddr {
	out := make([]netid.ClientAddr, 0, len(s.dense))
	for _, rec := range s.dense {
		out = append(out, rec.addr)
	}
	return out
}

// RemoteIDs returns every live ClientId, in no particular order.
func (s *ClientStorage) RemoteIDs() []netid.ClientId {
	out := make([]netid.ClientId, 0, len(s.dense))
	for _, rec := range s.dense {
		out = append(out, s.idFor(rec.internalID))
	}
	return out
}

// NextID previews the id that the next Add of an address with no archived
// entry would assign, without mutating storage: the reuse pool takes
// priority, then the index equal to the current dense length. An Add of an
// archived address reclaims that address's archived index instead. It
// returns false if storage is at capacity and the pool is empty.
func (s *ClientStorage) NextID() (netid.ClientId, bool) {
	if len(s.pool) > 0 {
		return s.idFor(s.pool[len(s.pool)-1]), true
	}
	if len(s.dense) < int(s.maxClients) {
		return s.idFor(uint32(len(s.dense))), true
	}
	return s.invalidID, false
}

// ExpiredClients returns every live id whose last ping is older than
// now - timeout.
func (s *ClientStorage) ExpiredClients(timeout time.Duration, now time.Time) []netid.ClientId {
	cutoff := now.Add(-timeout)
	var out []netid.ClientId
	for _, rec := range s.dense {
		if rec.ping.Before(cutoff) {
			out = append(out, s.idFor(rec.internalID))
		}
	}
	return out
}

// TaskDrainArchive returns archived internal indices to the reuse pool
// once they have sat in the archive longer than ttl.
func (s *ClientStorage) TaskDrainArchive(ttl time.Duration, now time.Time) {
	s.archive.DrainExpired(ttl, now, func(_ netid.ClientAddr, entry archiveEntry) {
		s.pool = append(s.pool, entry.internalID)
	})
}

// TaskDrainBlacklist releases addresses from the blacklist once ttl has
// elapsed since they were sanctioned.
func (s *ClientStorage) TaskDrainBlacklist(ttl time.Duration, now time.Time) {
	s.blacklist.DrainExpired(ttl, now, nil)
}

// TaskResetErrors clears error-budget counters that have gone untouched
// for longer than ttl, giving a peer a fresh budget after good behavior.
func (s *ClientStorage) TaskResetErrors(ttl time.Duration, now time.Time) {
	s.errors.DrainExpired(ttl, now, nil)
}
