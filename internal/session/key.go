// Package session is the bidirectional flow registry.
package session

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"

	"firestige.xyz/flowmon/internal/core"
)

// Tuple holds the directional endpoints of a session. The client is the
// sender of the packet that created the session and stays fixed for the
// session's life, even when it turns out to be the server of the
// underlying protocol.
type Tuple struct {
	ClientAddr netip.Addr
	ServerAddr netip.Addr
	ClientPort uint16
	ServerPort uint16
	Protocol   uint8
}

// TupleOf returns the tuple of a classified packet, taking its sender as
// the client.
func TupleOf(pkt *core.Packet) Tuple {
	return Tuple{
		ClientAddr: pkt.Network.SrcIP,
		ServerAddr: pkt.Network.DstIP,
		ClientPort: pkt.Transport.SrcPort,
		ServerPort: pkt.Transport.DstPort,
		Protocol:   pkt.Network.Protocol,
	}
}

// Client returns the client endpoint.
func (t Tuple) Client() netip.AddrPort { return netip.AddrPortFrom(t.ClientAddr, t.ClientPort) }

// Server returns the server endpoint.
func (t Tuple) Server() netip.AddrPort { return netip.AddrPortFrom(t.ServerAddr, t.ServerPort) }

func (t Tuple) String() string {
	return fmt.Sprintf("%s -> %s proto %d", t.Client(), t.Server(), t.Protocol)
}

// Key is the canonical, direction-agnostic identity of a session. Both
// directions of a conversation produce an equal Key. It is comparable and
// used directly as a map key.
type Key struct {
	LesserAddr  netip.Addr
	LesserPort  uint16
	GreaterAddr netip.Addr
	GreaterPort uint16
	Protocol    uint8
}

// NewKey orders the two endpoints by address, then by port when the
// addresses are equal.
func NewKey(t Tuple) Key {
	a := netip.AddrPortFrom(t.ClientAddr, t.ClientPort)
	b := netip.AddrPortFrom(t.ServerAddr, t.ServerPort)
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return Key{
		LesserAddr:  a.Addr(),
		LesserPort:  a.Port(),
		GreaterAddr: b.Addr(),
		GreaterPort: b.Port(),
		Protocol:    t.Protocol,
	}
}

// KeyOf returns the key of a classified packet.
func KeyOf(pkt *core.Packet) Key {
	return NewKey(TupleOf(pkt))
}

// AddrHash hashes the address pair and protocol of the key, ignoring the
// ports, so that all fragments of a datagram hash like the datagram.
func (k Key) AddrHash() uint64 {
	return AddrHash(k.LesserAddr, k.GreaterAddr, k.Protocol)
}

// AddrHash hashes an unordered address pair and a protocol number.
func AddrHash(a, b netip.Addr, protocol uint8) uint64 {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	var buf [33]byte
	a16, b16 := a.As16(), b.As16()
	copy(buf[0:16], a16[:])
	copy(buf[16:32], b16[:])
	buf[32] = protocol
	return xxhash.Sum64(buf[:])
}

// Hash hashes the full key.
func (k Key) Hash() uint64 {
	var buf [37]byte
	l16, g16 := k.LesserAddr.As16(), k.GreaterAddr.As16()
	copy(buf[0:16], l16[:])
	binary.BigEndian.PutUint16(buf[16:18], k.LesserPort)
	copy(buf[18:34], g16[:])
	binary.BigEndian.PutUint16(buf[34:36], k.GreaterPort)
	buf[36] = k.Protocol
	return xxhash.Sum64(buf[:])
}

func (k Key) String() string {
	return fmt.Sprintf("%s <-> %s proto %d",
		netip.AddrPortFrom(k.LesserAddr, k.LesserPort),
		netip.AddrPortFrom(k.GreaterAddr, k.GreaterPort),
		k.Protocol)
}
