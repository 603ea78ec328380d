package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/flowmon/internal/core"
)

const (
	ipv4HeaderMinLen = 20
)

// decodeIP checks the version nibble and dispatches to the IPv4 decoder.
// Returns the network metadata and the bytes following the IP header,
// trimmed to the declared total length.
func decodeIP(data []byte) (core.NetworkMeta, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.NetworkMeta{}, nil, core.DropTooShort
	}

	// Check IP version (first 4 bits)
	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return core.NetworkMeta{Kind: core.NetworkUnknown}, nil, core.DropIPv6
	default:
		return core.NetworkMeta{Kind: core.NetworkUnknown}, nil, core.DropUnknownVersion
	}
}

// decodeIPv4 decodes IPv4 header. The caller guarantees len(data) >= 20.
func decodeIPv4(data []byte) (core.NetworkMeta, []byte, error) {
	// IHL (Internet Header Length) - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.NetworkMeta{}, nil, core.DropBadHeaderLength
	}

	// Total Length (2 bytes at offset 2). Bytes past it are link padding.
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < headerLen || totalLen > len(data) {
		return core.NetworkMeta{}, nil, core.DropBadTotalLength
	}

	// Flags (3 bits) + Fragment Offset (13 bits, 8-byte units) at offset 6
	flagsOffset := binary.BigEndian.Uint16(data[6:8])

	nm := core.NetworkMeta{
		Kind:       core.NetworkIPv4,
		Protocol:   data[9],
		TTL:        data[8],
		Flags:      core.IPv4Flags(flagsOffset >> 13),
		ID:         binary.BigEndian.Uint16(data[4:6]),
		FragOffset: (flagsOffset & 0x1FFF) * 8,
		HeaderLen:  headerLen,
		TotalLen:   totalLen,
		SrcIP:      netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:      netip.AddrFrom4([4]byte(data[16:20])),
	}

	if nm.Flags.MoreFragments() || nm.FragOffset != 0 {
		nm.Kind = core.NetworkIPv4Fragment
	}

	return nm, data[headerLen:totalLen], nil
}
