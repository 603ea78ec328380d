package session

import (
	"firestige.xyz/flowmon/internal/core"
)

// IdlePolicy holds idle thresholds in caller timestamp units. A zero
// threshold never expires sessions of that class.
type IdlePolicy struct {
	TCP       uint64
	TCPClosed uint64
	UDP       uint64
	Other     uint64
}

// Threshold returns the idle threshold that applies to s.
func (p IdlePolicy) Threshold(s *Session) uint64 {
	switch s.Tuple.Protocol {
	case core.ProtocolTCP:
		if s.Closed() {
			return p.TCPClosed
		}
		return p.TCP
	case core.ProtocolUDP:
		return p.UDP
	default:
		return p.Other
	}
}

// Expired is one session removed by Sweep.
type Expired struct {
	Key     Key
	Session *Session
}

// Sweep removes every session idle for longer than its threshold at now
// and returns them.
func (t *Table) Sweep(now uint64, policy IdlePolicy) []Expired {
	var out []Expired
	for k, s := range t.sessions {
		limit := policy.Threshold(s)
		if limit == 0 {
			continue
		}
		last := s.LastSeen()
		if now <= last || now-last <= limit {
			continue
		}
		delete(t.sessions, k)
		out = append(out, Expired{Key: k, Session: s})
	}
	return out
}

// Drain removes and returns every session.
func (t *Table) Drain() []Expired {
	out := make([]Expired, 0, len(t.sessions))
	for k, s := range t.sessions {
		out = append(out, Expired{Key: k, Session: s})
	}
	clear(t.sessions)
	return out
}
