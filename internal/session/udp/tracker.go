// Package udp tracks direction-aware delivery of one UDP flow.
package udp

import "firestige.xyz/flowmon/internal/core"

// Pairer matches requests with responses on a UDP flow, e.g. DNS
// transactions. Implementations live with the application decoders.
type Pairer interface {
	Observe(dir core.Direction, payload []byte, ts uint64)
}

// HostStats are the per-direction counters of a UDP flow.
type HostStats struct {
	Packets   uint64
	Bytes     uint64 // datagram payload bytes, UDP header excluded
	FirstSeen uint64
	LastSeen  uint64
}

// Tracker is the per-session UDP tracker.
type Tracker struct {
	hosts  [2]HostStats
	pairer Pairer
}

// NewTracker returns a tracker without a pairer.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetPairer installs p. A nil p removes the pairer.
func (t *Tracker) SetPairer(p Pairer) {
	t.pairer = p
}

// Process records one datagram payload sent in dir.
func (t *Tracker) Process(payload []byte, dir core.Direction, ts uint64) {
	h := &t.hosts[dir]
	if h.Packets == 0 {
		h.FirstSeen = ts
	}
	h.Packets++
	h.Bytes += uint64(len(payload))
	h.LastSeen = ts

	if t.pairer != nil {
		t.pairer.Observe(dir, payload, ts)
	}
}

// Stats returns the counters of the host sending in dir.
func (t *Tracker) Stats(dir core.Direction) HostStats {
	return t.hosts[dir]
}

// Summary is an exportable copy of the tracker.
type Summary struct {
	Client HostStats
	Server HostStats
}

func (t *Tracker) Summary() Summary {
	return Summary{
		Client: t.hosts[core.ClientToServer],
		Server: t.hosts[core.ServerToClient],
	}
}
