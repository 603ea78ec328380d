package tcp

import "github.com/google/gopacket/tcpassembly"

// HostSeq tracks the sequence progress of one host. From Established on a
// connection carries one per direction; the two progress independently.
type HostSeq struct {
	SeqNo       uint32 // most recent sequence number sent by the host
	NextSeq     uint32 // next sequence number expected from the host
	AckNo       uint32 // most recent acknowledgment sent by the host
	Window      uint16 // last advertised window, unscaled
	WindowScale uint8
	DataBytes   uint64 // payload bytes seen for the first time
}

// HostStats are the per-direction counters of a TCP connection.
type HostStats struct {
	SynCount        uint32
	SynRetransmits  uint32
	RstCount        uint32
	RstRetransmits  uint32
	Retransmits     uint32
	RetransmitBytes uint64

	Anomalies           uint32 // flags inconsistent with the connection state
	OutOfOrder          uint32 // segments starting past NextSeq
	Keepalives          uint32
	SpuriousRetransmits uint32 // retransmissions reported back through D-SACK
}

// Handshake holds the timestamps of the three-way handshake in the caller's
// timestamp units.
type Handshake struct {
	SynTime    uint64
	SynAckTime uint64
	AckTime    uint64
	SawSyn     bool
	SawSynAck  bool
	SawAck     bool
}

// ServerRTT is the delay between the opener's SYN and the responder's
// SYN-ACK as seen at the capture point.
func (h Handshake) ServerRTT() (uint64, bool) {
	if !h.SawSyn || !h.SawSynAck || h.SynAckTime < h.SynTime {
		return 0, false
	}
	return h.SynAckTime - h.SynTime, true
}

// ClientRTT is the delay between the SYN-ACK and the opener's final ACK.
func (h Handshake) ClientRTT() (uint64, bool) {
	if !h.SawSynAck || !h.SawAck || h.AckTime < h.SynAckTime {
		return 0, false
	}
	return h.AckTime - h.SynAckTime, true
}

// seqDiff returns b-a in sequence space. Valid while the two are less than
// 2^31 apart.
func seqDiff(a, b uint32) int {
	return int(int32(b - a))
}

func seqAdd(s uint32, n int) uint32 {
	return uint32(tcpassembly.Sequence(s).Add(n))
}
