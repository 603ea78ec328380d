// Package source reads link-layer frames and hands IP datagrams to the monitor.
package source

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// Protocol numbers
	protocolIPIP = 4
	protocolUDP  = 17
	protocolGRE  = 47

	// Well-known UDP ports
	vxlanPort  = 4789
	genevePort = 6081

	udpHeaderLen    = 8
	greHeaderMinLen = 4
	geneveHeaderLen = 8
	maxTunnelDepth  = 2
)

// Tunnels selects the encapsulations stripped from IPv4 datagrams. The
// outer header is discarded and the inner datagram is monitored instead.
type Tunnels struct {
	VXLAN  bool `mapstructure:"vxlan"`
	GRE    bool `mapstructure:"gre"`
	Geneve bool `mapstructure:"geneve"`
	IPIP   bool `mapstructure:"ipip"`
}

func (t Tunnels) any() bool { return t.VXLAN || t.GRE || t.Geneve || t.IPIP }

// LinkDecoder strips link-layer framing (Ethernet, 802.1Q, Linux cooked,
// BSD loopback) and optional tunnels. It is not safe for concurrent use.
type LinkDecoder struct {
	linkType layers.LinkType
	tunnels  Tunnels

	parser *gopacket.DecodingLayerParser
	inner  *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	sll     layers.LinuxSLL
	loop    layers.Loopback
	gre     layers.GRE
	vxlan   layers.VXLAN
	geneve  layers.Geneve
	decoded []gopacket.LayerType
}

// NewLinkDecoder creates a decoder for frames of the given link type.
func NewLinkDecoder(linkType layers.LinkType, tunnels Tunnels) *LinkDecoder {
	d := &LinkDecoder{
		linkType: linkType,
		tunnels:  tunnels,
		decoded:  make([]gopacket.LayerType, 0, 4),
	}

	var first gopacket.LayerType
	switch linkType {
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		first = layers.LayerTypeLoopback
	default:
		first = layers.LayerTypeEthernet
	}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.eth, &d.dot1q, &d.sll, &d.loop)
	d.inner = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.dot1q)
	return d
}

// Decode returns the IP datagram carried by frame. ok is false for frames
// that carry neither IPv4 nor IPv6 (ARP, LLDP, ...). The returned slice
// aliases frame.
func (d *LinkDecoder) Decode(frame []byte) (datagram []byte, ok bool) {
	switch d.linkType {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		datagram = frame
	default:
		var next gopacket.LayerType
		datagram, next, ok = d.strip(d.parser, frame)
		if !ok {
			return nil, false
		}
		if next != layers.LayerTypeIPv4 && next != layers.LayerTypeIPv6 {
			return nil, false
		}
	}
	if len(datagram) == 0 {
		return nil, false
	}
	if d.tunnels.any() {
		datagram = d.unwrap(datagram)
	}
	return datagram, true
}

// unwrap runs decap, keeping the outer datagram if a tunnel header decoder
// panics on a short buffer.
func (d *LinkDecoder) unwrap(ip []byte) (out []byte) {
	defer func() {
		if recover() != nil {
			out = ip
		}
	}()
	return d.decap(ip, 0)
}

func (d *LinkDecoder) layer(t gopacket.LayerType) gopacket.DecodingLayer {
	switch t {
	case layers.LayerTypeEthernet:
		return &d.eth
	case layers.LayerTypeDot1Q:
		return &d.dot1q
	case layers.LayerTypeLinuxSLL:
		return &d.sll
	case layers.LayerTypeLoopback:
		return &d.loop
	}
	return nil
}

// strip runs p until it reaches a layer it has no decoder for, which for
// IP traffic is the network layer.
func (d *LinkDecoder) strip(p *gopacket.DecodingLayerParser, frame []byte) ([]byte, gopacket.LayerType, bool) {
	err := p.DecodeLayers(frame, &d.decoded)
	if len(d.decoded) == 0 {
		return nil, gopacket.LayerTypeZero, false
	}
	var unsupported gopacket.UnsupportedLayerType
	if err != nil && !errors.As(err, &unsupported) {
		return nil, gopacket.LayerTypeZero, false
	}
	last := d.layer(d.decoded[len(d.decoded)-1])
	if last == nil {
		return nil, gopacket.LayerTypeZero, false
	}
	return last.LayerPayload(), last.NextLayerType(), true
}

// decap returns the innermost enabled tunnel payload of an IPv4 datagram,
// or ip itself. Fragments and malformed outer headers are never opened.
func (d *LinkDecoder) decap(ip []byte, depth int) []byte {
	if depth >= maxTunnelDepth || len(ip) < 20 || ip[0]>>4 != 4 {
		return ip
	}
	ihl := int(ip[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(ip[2:4]))
	if ihl < 20 || total < ihl || total > len(ip) {
		return ip
	}
	if binary.BigEndian.Uint16(ip[6:8])&0x3fff != 0 {
		return ip
	}
	payload := ip[ihl:total]

	var inner []byte
	switch ip[9] {
	case protocolIPIP:
		if d.tunnels.IPIP {
			inner = payload
		}
	case protocolGRE:
		if d.tunnels.GRE && len(payload) >= greHeaderMinLen && d.gre.DecodeFromBytes(payload, gopacket.NilDecodeFeedback) == nil {
			inner = d.network(d.gre.Protocol, d.gre.Payload)
		}
	case protocolUDP:
		if len(payload) < udpHeaderLen {
			break
		}
		body := payload[udpHeaderLen:]
		switch binary.BigEndian.Uint16(payload[2:4]) {
		case vxlanPort:
			if d.tunnels.VXLAN && d.vxlan.DecodeFromBytes(body, gopacket.NilDecodeFeedback) == nil {
				inner = d.ethernet(d.vxlan.Payload)
			}
		case genevePort:
			if d.tunnels.Geneve && len(body) >= geneveHeaderLen && d.geneve.DecodeFromBytes(body, gopacket.NilDecodeFeedback) == nil {
				inner = d.network(d.geneve.Protocol, d.geneve.Payload)
			}
		}
	}

	if len(inner) == 0 {
		return ip
	}
	return d.decap(inner, depth+1)
}

// network returns the IPv4 datagram carried under an EtherType, directly
// or inside a bridged Ethernet frame.
func (d *LinkDecoder) network(proto layers.EthernetType, payload []byte) []byte {
	switch proto {
	case layers.EthernetTypeIPv4:
		return payload
	case layers.EthernetTypeTransparentEthernetBridging:
		return d.ethernet(payload)
	}
	return nil
}

func (d *LinkDecoder) ethernet(frame []byte) []byte {
	payload, next, ok := d.strip(d.inner, frame)
	if !ok || next != layers.LayerTypeIPv4 {
		return nil
	}
	return payload
}
