// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// IP protocol numbers the monitor tracks.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// Direction of a packet relative to the session's client.
// The client is whichever endpoint sent the packet that created the session.
type Direction uint8

const (
	ClientToServer Direction = iota
	ServerToClient
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return d ^ 1
}

func (d Direction) String() string {
	if d == ClientToServer {
		return "client_to_server"
	}
	return "server_to_client"
}

// NetworkKind tags which NetworkMeta fields are meaningful.
type NetworkKind uint8

const (
	NetworkPending NetworkKind = iota // not yet classified
	NetworkIPv4
	NetworkIPv4Fragment
	NetworkUnknown
)

// IPv4Flags holds the three flag bits of the IPv4 header.
type IPv4Flags uint8

func (f IPv4Flags) MoreFragments() bool { return f&0x1 != 0 }
func (f IPv4Flags) DontFragment() bool  { return f&0x2 != 0 }

// NetworkMeta is the L3 classification result.
type NetworkMeta struct {
	Kind       NetworkKind
	SrcIP      netip.Addr
	DstIP      netip.Addr
	Protocol   uint8
	TTL        uint8
	Flags      IPv4Flags
	ID         uint16 // identification, meaningful for fragments
	FragOffset uint16 // in bytes
	HeaderLen  int
	TotalLen   int
}

// TransportKind tags which TransportMeta fields are meaningful.
type TransportKind uint8

const (
	TransportPending TransportKind = iota // not yet classified
	TransportTCP
	TransportUDP
	TransportOther
)

// TCPFlags is the TCP control-bit octet.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 0x01
	FlagSYN TCPFlags = 0x02
	FlagRST TCPFlags = 0x04
	FlagPSH TCPFlags = 0x08
	FlagACK TCPFlags = 0x10
	FlagURG TCPFlags = 0x20
	FlagECE TCPFlags = 0x40
	FlagCWR TCPFlags = 0x80
)

func (f TCPFlags) FIN() bool { return f&FlagFIN != 0 }
func (f TCPFlags) SYN() bool { return f&FlagSYN != 0 }
func (f TCPFlags) RST() bool { return f&FlagRST != 0 }
func (f TCPFlags) PSH() bool { return f&FlagPSH != 0 }
func (f TCPFlags) ACK() bool { return f&FlagACK != 0 }
func (f TCPFlags) URG() bool { return f&FlagURG != 0 }
func (f TCPFlags) ECE() bool { return f&FlagECE != 0 }
func (f TCPFlags) CWR() bool { return f&FlagCWR != 0 }

// TransportMeta is the L4 classification result.
type TransportMeta struct {
	Kind     TransportKind
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
	Flags    TCPFlags // TCP only
}
