package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowmon/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// decodeTransport classifies the transport segment carried by an IPv4
// datagram. Returns TransportMeta and the segment trimmed to its own length.
func decodeTransport(data []byte, protocol uint8, trackOther bool) (core.TransportMeta, []byte, error) {
	switch protocol {
	case core.ProtocolTCP:
		tm, err := decodeTCP(data)
		return tm, data, err
	case core.ProtocolUDP:
		return decodeUDP(data)
	default:
		// ICMP, SCTP, GRE...
		if !trackOther {
			return core.TransportMeta{}, nil, core.DropUnsupportedTransport
		}
		return core.TransportMeta{Kind: core.TransportOther, Protocol: protocol}, data, nil
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.TransportMeta, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportMeta{}, nil, core.DropTruncatedUDP
	}

	// Length (2 bytes at offset 4) - includes header and data
	length := int(binary.BigEndian.Uint16(data[4:6]))
	if length < udpHeaderLen || length > len(data) {
		return core.TransportMeta{}, nil, core.DropBadUDPLength
	}

	transport := core.TransportMeta{
		Kind:     core.TransportUDP,
		Protocol: core.ProtocolUDP,
		// Source Port (2 bytes at offset 0)
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		// Destination Port (2 bytes at offset 2)
		DstPort: binary.BigEndian.Uint16(data[2:4]),
	}

	// Checksum (2 bytes at offset 6) - not verified, the monitor is passive
	return transport, data[:length], nil
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TransportMeta, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportMeta{}, core.DropTruncatedTCP
	}

	// Data Offset (upper 4 bits of byte 12) in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return core.TransportMeta{}, core.DropBadTCPHeaderLength
	}

	return core.TransportMeta{
		Kind:     core.TransportTCP,
		Protocol: core.ProtocolTCP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		// Byte 13: CWR ECE URG ACK PSH RST SYN FIN
		Flags: core.TCPFlags(data[13]),
	}, nil
}
