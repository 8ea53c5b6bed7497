package clientstore

import (
	"time"

	"github.com/embergate/netcore/netid"
)

// Record is a single point-in-time export row for one live client record,
// the shape cmd/netcore-csvtool converts to CSV via gocsv — the same
// "one exported row per stored entry" shape as the teacher's own
// netlink.ArchivalRecord/snapshot.Snapshot pairing, just keyed on a
// ClientId instead of a TCP SockID.
type Record struct {
	Timestamp   time.Time      `json:"timestamp" csv:"timestamp"`
	ID          netid.ClientId `json:"id" csv:"id"`
	Addr        string         `json:"addr" csv:"addr"`
	Sequence    uint16         `json:"sequence" csv:"sequence"`
	IdleSeconds float64        `json:"idle_seconds" csv:"idle_seconds"`
}

// Snapshot exports every live entry as of now, suitable for periodic
// persistence or direct CSV conversion. Order matches the dense array and
// carries no particular guarantee.
func (s *ClientStorage) Snapshot(now time.Time) []Record {
	out := make([]Record, 0, len(s.dense))
	for _, rec := range s.dense {
		out = append(out, Record{
			Timestamp:   now,
			ID:          s.idFor(rec.internalID),
			Addr:        rec.addr.String(),
			Sequence:    rec.seq,
			IdleSeconds: now.Sub(rec.ping).Seconds(),
		})
	}
	return out
}
