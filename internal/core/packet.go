// Package core defines core data structures with zero external dependencies.
package core

import "net/netip"

// RawPacket is one IP datagram handed over by a packet source.
// Data starts at the IP header; link-layer and tunnel framing are already gone.
// Timestamp is opaque to the monitor; sources in this repo use Unix nanoseconds.
type RawPacket struct {
	Data      []byte
	Timestamp uint64
}

// Packet is the result of classifying a RawPacket.
type Packet struct {
	Timestamp uint64
	Network   NetworkMeta
	Transport TransportMeta
	// Payload is the transport segment: header and data, trimmed to the
	// IP total length (and to the declared length for UDP).
	Payload []byte
}

// Fragment is handed to a fragment handler for any IPv4 datagram with the
// more-fragments bit set or a non-zero offset.
type Fragment struct {
	Timestamp     uint64
	ID            uint16
	SrcIP         netip.Addr
	DstIP         netip.Addr
	Protocol      uint8
	Offset        int // in bytes
	MoreFragments bool
	Header        []byte // IPv4 header of this fragment
	Payload       []byte // fragment data, trimmed to the total length
}
