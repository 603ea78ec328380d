package session

import (
	"net/netip"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/core/decoder"
	"firestige.xyz/flowmon/internal/session/tcp"
	"firestige.xyz/flowmon/internal/session/udp"
)

// Stats are the aggregate counters of a session. Tx is client to server,
// Rx is server to client. Bytes are transport bytes: header plus payload.
type Stats struct {
	PacketsTx uint64
	PacketsRx uint64
	BytesTx   uint64
	BytesRx   uint64
}

// Transport is the protocol tracker of a session: *tcp.Tracker,
// *udp.Tracker or Opaque. It is chosen once, at creation.
type Transport interface {
	// Closed reports whether the conversation reached a terminal state.
	Closed() bool
}

// Opaque is the tracker of protocols other than TCP and UDP. It keeps no
// state beyond the aggregate session counters.
type Opaque struct {
	Protocol uint8
}

func (Opaque) Closed() bool { return false }

// Session is one live conversation.
type Session struct {
	Tuple  Tuple
	Stats  Stats
	Start  uint64
	LastTx uint64
	LastRx uint64

	info      Info
	transport Transport
}

// New creates a session whose client is the tuple's client.
func New(tuple Tuple, ts uint64) *Session {
	s := &Session{
		Tuple: tuple,
		Start: ts,
	}
	switch tuple.Protocol {
	case core.ProtocolTCP:
		s.transport = tcp.NewTracker()
	case core.ProtocolUDP:
		s.transport = udp.NewTracker()
	default:
		s.transport = Opaque{Protocol: tuple.Protocol}
	}
	return s
}

// Direction infers the direction of a packet from its sender. Inference is
// by address; the port decides when both endpoints share the address.
func (s *Session) Direction(src netip.Addr, srcPort uint16) core.Direction {
	if s.Tuple.ClientAddr == s.Tuple.ServerAddr {
		if srcPort == s.Tuple.ClientPort {
			return core.ClientToServer
		}
		return core.ServerToClient
	}
	if src == s.Tuple.ClientAddr {
		return core.ClientToServer
	}
	return core.ServerToClient
}

// Update counts one packet of n transport bytes sent in dir at ts.
func (s *Session) Update(dir core.Direction, n int, ts uint64) {
	if dir == core.ClientToServer {
		s.Stats.PacketsTx++
		s.Stats.BytesTx += uint64(n)
		s.LastTx = ts
		return
	}
	s.Stats.PacketsRx++
	s.Stats.BytesRx += uint64(n)
	s.LastRx = ts
}

// LastSeen returns the timestamp of the most recent packet in either
// direction.
func (s *Session) LastSeen() uint64 {
	return max(s.Start, s.LastTx, s.LastRx)
}

// Transport returns the protocol tracker.
func (s *Session) Transport() Transport { return s.transport }

// TCP returns the TCP tracker of a TCP session.
func (s *Session) TCP() (*tcp.Tracker, bool) {
	t, ok := s.transport.(*tcp.Tracker)
	return t, ok
}

// UDP returns the UDP tracker of a UDP session.
func (s *Session) UDP() (*udp.Tracker, bool) {
	t, ok := s.transport.(*udp.Tracker)
	return t, ok
}

// Closed reports whether the transport reached a terminal state.
func (s *Session) Closed() bool { return s.transport.Closed() }

// Info returns the enrichment, or nil while it is pending.
func (s *Session) Info() Info { return s.info }

// SetInfo stores the enrichment. It can be set once.
func (s *Session) SetInfo(info Info) error {
	if s.info != nil {
		return core.ErrInfoAlreadySet
	}
	s.info = info
	return nil
}

// Result reports what one packet did to a session.
type Result struct {
	Direction core.Direction
	TCP       tcp.Outcome
}

// Handle applies a classified packet to the session: aggregate counters
// first, then the protocol tracker. seg must be the decoded segment of a
// TCP packet and is ignored otherwise.
func (s *Session) Handle(pkt *core.Packet, seg *decoder.Segment) Result {
	dir := s.Direction(pkt.Network.SrcIP, pkt.Transport.SrcPort)
	s.Update(dir, len(pkt.Payload), pkt.Timestamp)

	res := Result{Direction: dir}
	switch t := s.transport.(type) {
	case *tcp.Tracker:
		if seg != nil {
			res.TCP = t.Process(seg, dir, pkt.Timestamp)
		}
	case *udp.Tracker:
		payload := pkt.Payload
		if len(payload) >= 8 {
			payload = payload[8:]
		}
		t.Process(payload, dir, pkt.Timestamp)
	}
	return res
}
