// Package monitor turns a stream of raw IPv4 packets into live sessions.
package monitor

import (
	"errors"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/core/decoder"
	"firestige.xyz/flowmon/internal/session"
	"firestige.xyz/flowmon/internal/session/tcp"
)

// Config configures a Monitor.
type Config struct {
	// FragmentHandler receives IPv4 fragments. Nil drops them.
	FragmentHandler decoder.FragmentHandler
	// TrackOtherProtocols keeps sessions for transports other than TCP
	// and UDP, with zero ports.
	TrackOtherProtocols bool
	// Idle drives Sweep.
	Idle session.IdlePolicy
	// Clock returns the current time in packet timestamp units. When nil
	// the monitor uses the largest packet timestamp seen.
	Clock func() uint64
	// TableSizeHint presizes the session table.
	TableSizeHint int
}

// Stats are cumulative monitor counters.
type Stats struct {
	Packets         uint64 // packets applied to a session
	Bytes           uint64 // transport bytes of those packets
	Drops           [core.DropReasonCount]uint64
	FragmentsHeld   uint64
	HandlerErrors   uint64 // fragment handler errors that are not drop reasons
	SessionsCreated uint64
	SessionsExpired uint64
	TCPAnomalies    uint64
	TCPRetransmits  uint64
	TCPResets       uint64
	ActiveSessions  int
}

// DroppedTotal sums the drops of every reason.
func (s Stats) DroppedTotal() uint64 {
	var n uint64
	for _, d := range s.Drops {
		n += d
	}
	return n
}

// Add accumulates o into s. ActiveSessions is summed as well.
func (s *Stats) Add(o Stats) {
	s.Packets += o.Packets
	s.Bytes += o.Bytes
	for i := range s.Drops {
		s.Drops[i] += o.Drops[i]
	}
	s.FragmentsHeld += o.FragmentsHeld
	s.HandlerErrors += o.HandlerErrors
	s.SessionsCreated += o.SessionsCreated
	s.SessionsExpired += o.SessionsExpired
	s.TCPAnomalies += o.TCPAnomalies
	s.TCPRetransmits += o.TCPRetransmits
	s.TCPResets += o.TCPResets
	s.ActiveSessions += o.ActiveSessions
}

// Sub returns the counter increase from prev to s. ActiveSessions is
// taken from s.
func (s Stats) Sub(prev Stats) Stats {
	d := Stats{
		Packets:         s.Packets - prev.Packets,
		Bytes:           s.Bytes - prev.Bytes,
		FragmentsHeld:   s.FragmentsHeld - prev.FragmentsHeld,
		HandlerErrors:   s.HandlerErrors - prev.HandlerErrors,
		SessionsCreated: s.SessionsCreated - prev.SessionsCreated,
		SessionsExpired: s.SessionsExpired - prev.SessionsExpired,
		TCPAnomalies:    s.TCPAnomalies - prev.TCPAnomalies,
		TCPRetransmits:  s.TCPRetransmits - prev.TCPRetransmits,
		TCPResets:       s.TCPResets - prev.TCPResets,
		ActiveSessions:  s.ActiveSessions,
	}
	for i := range d.Drops {
		d.Drops[i] = s.Drops[i] - prev.Drops[i]
	}
	return d
}

// Monitor owns one session table. It is single-threaded: every method must
// be called from the same goroutine.
type Monitor struct {
	decoder    *decoder.Decoder
	classifier *decoder.Decoder
	table      *session.Table
	idle       session.IdlePolicy
	clock      func() uint64
	maxTS      uint64
	stats      Stats
	seg        decoder.Segment
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{
		decoder: decoder.NewDecoder(decoder.Config{
			FragmentHandler:     cfg.FragmentHandler,
			TrackOtherProtocols: cfg.TrackOtherProtocols,
		}),
		classifier: decoder.NewDecoder(decoder.Config{
			TrackOtherProtocols: cfg.TrackOtherProtocols,
		}),
		table: session.NewTable(cfg.TableSizeHint),
		idle:  cfg.Idle,
		clock: cfg.Clock,
	}
}

// HandlePacket processes one raw IPv4 datagram captured at ts. Packets that
// fail validation are counted per reason and change no session.
func (m *Monitor) HandlePacket(data []byte, ts uint64) {
	if ts > m.maxTS {
		m.maxTS = ts
	}

	pkt, err := m.decoder.Decode(core.RawPacket{Data: data, Timestamp: ts})
	if err != nil {
		m.countError(err)
		return
	}

	var seg *decoder.Segment
	if pkt.Transport.Kind == core.TransportTCP {
		if err := decoder.DecodeSegmentInto(pkt.Payload, &m.seg); err != nil {
			m.countError(err)
			return
		}
		seg = &m.seg
	}

	s, created := m.table.GetOrCreate(session.KeyOf(&pkt), session.TupleOf(&pkt), ts)
	if created {
		m.stats.SessionsCreated++
	}
	res := s.Handle(&pkt, seg)

	m.stats.Packets++
	m.stats.Bytes += uint64(len(pkt.Payload))
	if res.TCP.Has(tcp.OutcomeAnomaly) {
		m.stats.TCPAnomalies++
	}
	if res.TCP.Has(tcp.OutcomeRetransmit) {
		m.stats.TCPRetransmits++
	}
	if res.TCP.Has(tcp.OutcomeReset) {
		m.stats.TCPResets++
	}
}

func (m *Monitor) countError(err error) {
	if errors.Is(err, decoder.ErrFragmentHeld) {
		m.stats.FragmentsHeld++
		return
	}
	if r := core.DropReasonOf(err); r != core.DropNone {
		m.stats.Drops[r]++
		return
	}
	m.stats.HandlerErrors++
}

// Classify validates a raw packet and derives its session key without
// touching any state. Fragments are never handed to the fragment handler
// here and classify as core.DropFragment.
func (m *Monitor) Classify(raw core.RawPacket) (session.Key, error) {
	pkt, err := m.classifier.Decode(raw)
	if err != nil {
		return session.Key{}, err
	}
	return session.KeyOf(&pkt), nil
}

// Lookup returns the live session for key.
func (m *Monitor) Lookup(key session.Key) (*session.Session, bool) {
	return m.table.Lookup(key)
}

// Len returns the number of live sessions.
func (m *Monitor) Len() int { return m.table.Len() }

// Stats returns the cumulative counters.
func (m *Monitor) Stats() Stats {
	s := m.stats
	s.ActiveSessions = m.table.Len()
	return s
}

// Snapshot copies every live session.
func (m *Monitor) Snapshot() []session.Snapshot {
	return m.table.Snapshot()
}

// Now returns the monitor clock.
func (m *Monitor) Now() uint64 {
	if m.clock != nil {
		return m.clock()
	}
	return m.maxTS
}

// Sweep removes sessions idle at Now according to the idle policy.
func (m *Monitor) Sweep() []session.Expired {
	return m.SweepAt(m.Now())
}

// SweepAt removes sessions idle at now.
func (m *Monitor) SweepAt(now uint64) []session.Expired {
	expired := m.table.Sweep(now, m.idle)
	m.stats.SessionsExpired += uint64(len(expired))
	return expired
}

// Flush removes every session.
func (m *Monitor) Flush() []session.Expired {
	expired := m.table.Drain()
	m.stats.SessionsExpired += uint64(len(expired))
	return expired
}
