package source

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	macA = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	macB = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, l...))
	return append([]byte(nil), buf.Bytes()...)
}

func ipv4(src, dst net.IP, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src, DstIP: dst}
}

func innerDatagram(t *testing.T) []byte {
	return serialize(t, ipv4(net.IP{192, 168, 1, 1}, net.IP{192, 168, 1, 2}, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 1234, DstPort: 53}, gopacket.Payload(make([]byte, 64)))
}

func TestLinkDecoderEthernet(t *testing.T) {
	inner := innerDatagram(t)
	frame := serialize(t, &layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		gopacket.Payload(inner))

	d := NewLinkDecoder(layers.LinkTypeEthernet, Tunnels{})
	got, ok := d.Decode(frame)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderVLAN(t *testing.T) {
	inner := innerDatagram(t)
	frame := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 200, Type: layers.EthernetTypeIPv4},
		gopacket.Payload(inner))

	got, ok := NewLinkDecoder(layers.LinkTypeEthernet, Tunnels{}).Decode(frame)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderNonIP(t *testing.T) {
	arp := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: macA, SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
		})

	d := NewLinkDecoder(layers.LinkTypeEthernet, Tunnels{})
	_, ok := d.Decode(arp)
	assert.False(t, ok)

	_, ok = d.Decode([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestLinkDecoderKeepsIPv6(t *testing.T) {
	v6 := make([]byte, 64)
	v6[0] = 0x60
	frame := serialize(t, &layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv6},
		gopacket.Payload(v6))

	got, ok := NewLinkDecoder(layers.LinkTypeEthernet, Tunnels{}).Decode(frame)
	require.True(t, ok)
	assert.Equal(t, v6, got)
}

func TestLinkDecoderRawAndLoopback(t *testing.T) {
	inner := innerDatagram(t)

	got, ok := NewLinkDecoder(layers.LinkTypeRaw, Tunnels{}).Decode(inner)
	require.True(t, ok)
	assert.Equal(t, inner, got)

	loop := serialize(t, &layers.Loopback{Family: layers.ProtocolFamilyIPv4}, gopacket.Payload(inner))
	got, ok = NewLinkDecoder(layers.LinkTypeNull, Tunnels{}).Decode(loop)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderIPIP(t *testing.T) {
	inner := innerDatagram(t)
	outer := serialize(t, ipv4(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, layers.IPProtocolIPv4), gopacket.Payload(inner))

	got, ok := NewLinkDecoder(layers.LinkTypeRaw, Tunnels{}).Decode(outer)
	require.True(t, ok)
	assert.Equal(t, outer, got, "tunnels are kept unless enabled")

	got, ok = NewLinkDecoder(layers.LinkTypeRaw, Tunnels{IPIP: true}).Decode(outer)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderGRE(t *testing.T) {
	inner := innerDatagram(t)
	outer := serialize(t,
		ipv4(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, layers.IPProtocolGRE),
		&layers.GRE{Protocol: layers.EthernetTypeIPv4},
		gopacket.Payload(inner))

	got, ok := NewLinkDecoder(layers.LinkTypeRaw, Tunnels{GRE: true}).Decode(outer)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderVXLAN(t *testing.T) {
	inner := innerDatagram(t)
	innerFrame := serialize(t, &layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		gopacket.Payload(inner))
	outer := serialize(t,
		ipv4(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 50000, DstPort: vxlanPort},
		&layers.VXLAN{ValidIDFlag: true, VNI: 42},
		gopacket.Payload(innerFrame))

	got, ok := NewLinkDecoder(layers.LinkTypeRaw, Tunnels{VXLAN: true}).Decode(outer)
	require.True(t, ok)
	assert.Equal(t, inner, got)
}

func TestLinkDecoderSkipsFragmentedTunnel(t *testing.T) {
	ip := ipv4(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, layers.IPProtocolIPv4)
	ip.Flags = layers.IPv4MoreFragments
	outer := serialize(t, ip, gopacket.Payload(innerDatagram(t)))

	got, ok := NewLinkDecoder(layers.LinkTypeRaw, Tunnels{IPIP: true}).Decode(outer)
	require.True(t, ok)
	assert.Equal(t, outer, got)
}
