package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowmon/internal/core"
)

// Segment is the per-packet parse of a TCP header. It is built on the stack
// for one call to the TCP tracker and never stored.
type Segment struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	Flags      core.TCPFlags
	Window     uint16
	Urgent     uint16
	HeaderLen  int
	PayloadLen int
	Options    OptionSet
}

// UrgentPointer returns the urgent pointer when URG is set.
func (s *Segment) UrgentPointer() (uint16, bool) {
	if !s.Flags.URG() {
		return 0, false
	}
	return s.Urgent, true
}

// SeqLen is the sequence space consumed by the segment: payload plus one
// for each of SYN and FIN.
func (s *Segment) SeqLen() int {
	n := s.PayloadLen
	if s.Flags.SYN() {
		n++
	}
	if s.Flags.FIN() {
		n++
	}
	return n
}

// DecodeSegment parses a TCP segment (header, options and payload) as
// found in core.Packet.Payload.
func DecodeSegment(data []byte) (Segment, error) {
	var seg Segment
	err := DecodeSegmentInto(data, &seg)
	return seg, err
}

// DecodeSegmentInto is DecodeSegment writing into a caller-owned Segment.
// seg is left untouched on error.
func DecodeSegmentInto(data []byte, seg *Segment) error {
	if len(data) < tcpHeaderMinLen {
		return core.DropTruncatedTCP
	}
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return core.DropBadTCPHeaderLength
	}

	*seg = Segment{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		Seq:        binary.BigEndian.Uint32(data[4:8]),
		Ack:        binary.BigEndian.Uint32(data[8:12]),
		Flags:      core.TCPFlags(data[13]),
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Urgent:     binary.BigEndian.Uint16(data[18:20]),
		HeaderLen:  headerLen,
		PayloadLen: len(data) - headerLen,
		Options:    ParseOptions(data[tcpHeaderMinLen:headerLen]),
	}
	return nil
}
