package session

import (
	"net/netip"

	"firestige.xyz/flowmon/internal/session/tcp"
	"firestige.xyz/flowmon/internal/session/udp"
)

// Snapshot is a point-in-time copy of a session, safe to hand to other
// goroutines. Client is the sender of the session's first packet.
type Snapshot struct {
	Client   netip.AddrPort
	Server   netip.AddrPort
	Protocol uint8
	Start    uint64
	LastTx   uint64
	LastRx   uint64
	Stats    Stats
	Info     Info

	TCP *tcp.Summary
	UDP *udp.Summary
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Client:   s.Tuple.Client(),
		Server:   s.Tuple.Server(),
		Protocol: s.Tuple.Protocol,
		Start:    s.Start,
		LastTx:   s.LastTx,
		LastRx:   s.LastRx,
		Stats:    s.Stats,
		Info:     s.info,
	}
	switch t := s.transport.(type) {
	case *tcp.Tracker:
		sum := t.Summary()
		snap.TCP = &sum
	case *udp.Tracker:
		sum := t.Summary()
		snap.UDP = &sum
	}
	return snap
}

// Snapshot copies every session of the table.
func (t *Table) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
