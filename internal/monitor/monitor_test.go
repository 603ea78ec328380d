package monitor

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/core/decoder"
	"firestige.xyz/flowmon/internal/session"
	"firestige.xyz/flowmon/internal/session/tcp"
)

var (
	clientIP = net.IP{10, 0, 0, 1}
	serverIP = net.IP{10, 0, 0, 2}
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, l...))
	return buf.Bytes()
}

func ipv4(src, dst net.IP, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Id: 7, Protocol: proto, SrcIP: src, DstIP: dst}
}

func udpPacket(t *testing.T, src, dst net.IP, sport, dport layers.UDPPort, n int) []byte {
	return serialize(t, ipv4(src, dst, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: sport, DstPort: dport}, gopacket.Payload(make([]byte, n)))
}

func tcpPacket(t *testing.T, src, dst net.IP, seg *layers.TCP, n int) []byte {
	return serialize(t, ipv4(src, dst, layers.IPProtocolTCP), seg, gopacket.Payload(make([]byte, n)))
}

func TestUDPRequestResponse(t *testing.T) {
	m := New(Config{})

	m.HandlePacket(udpPacket(t, clientIP, serverIP, 5000, 53, 20), 1000)
	m.HandlePacket(udpPacket(t, serverIP, clientIP, 53, 5000, 50), 1500)

	require.Equal(t, 1, m.Len())
	snaps := m.Snapshot()
	require.Len(t, snaps, 1)
	s := snaps[0]

	assert.Equal(t, "10.0.0.1:5000", s.Client.String())
	assert.Equal(t, "10.0.0.2:53", s.Server.String())
	assert.Equal(t, uint64(1), s.Stats.PacketsTx)
	assert.Equal(t, uint64(1), s.Stats.PacketsRx)
	assert.Equal(t, uint64(28), s.Stats.BytesTx)
	assert.Equal(t, uint64(58), s.Stats.BytesRx)
	assert.Equal(t, uint64(1000), s.Start)
	assert.Equal(t, uint64(1000), s.LastTx)
	assert.Equal(t, uint64(1500), s.LastRx)
	require.NotNil(t, s.UDP)
	assert.Equal(t, uint64(20), s.UDP.Client.Bytes)
	assert.Equal(t, uint64(50), s.UDP.Server.Bytes)

	st := m.Stats()
	assert.Equal(t, uint64(2), st.Packets)
	assert.Equal(t, uint64(86), st.Bytes)
	assert.Equal(t, uint64(1), st.SessionsCreated)
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Zero(t, st.DroppedTotal())
}

func TestDropsLeaveNoSession(t *testing.T) {
	m := New(Config{})

	ipv6 := make([]byte, 40)
	ipv6[0] = 0x60

	frag := ipv4(clientIP, serverIP, layers.IPProtocolUDP)
	frag.Flags = layers.IPv4MoreFragments

	icmp := serialize(t, ipv4(clientIP, serverIP, layers.IPProtocolICMPv4), gopacket.Payload(make([]byte, 8)))

	m.HandlePacket([]byte{0x45, 0, 0}, 1)
	m.HandlePacket(ipv6, 2)
	m.HandlePacket(serialize(t, frag, gopacket.Payload(make([]byte, 16))), 3)
	m.HandlePacket(icmp, 4)
	m.HandlePacket(serialize(t, ipv4(clientIP, serverIP, layers.IPProtocolTCP), gopacket.Payload(make([]byte, 10))), 5)

	assert.Zero(t, m.Len())
	st := m.Stats()
	assert.Equal(t, uint64(1), st.Drops[core.DropTooShort])
	assert.Equal(t, uint64(1), st.Drops[core.DropIPv6])
	assert.Equal(t, uint64(1), st.Drops[core.DropFragment])
	assert.Equal(t, uint64(1), st.Drops[core.DropUnsupportedTransport])
	assert.Equal(t, uint64(1), st.Drops[core.DropTruncatedTCP])
	assert.Equal(t, uint64(5), st.DroppedTotal())
	assert.Zero(t, st.Packets)
	assert.Zero(t, st.SessionsCreated)
	assert.Equal(t, uint64(5), m.Now())
}

func TestTrackOtherProtocols(t *testing.T) {
	m := New(Config{TrackOtherProtocols: true})

	icmp := serialize(t, ipv4(clientIP, serverIP, layers.IPProtocolICMPv4), gopacket.Payload(make([]byte, 8)))
	reply := serialize(t, ipv4(serverIP, clientIP, layers.IPProtocolICMPv4), gopacket.Payload(make([]byte, 8)))
	m.HandlePacket(icmp, 1)
	m.HandlePacket(reply, 2)

	require.Equal(t, 1, m.Len())
	s := m.Snapshot()[0]
	assert.Equal(t, uint8(1), s.Protocol)
	assert.Equal(t, uint64(1), s.Stats.PacketsTx)
	assert.Equal(t, uint64(1), s.Stats.PacketsRx)
	assert.Nil(t, s.TCP)
	assert.Nil(t, s.UDP)
}

func TestTCPSessionCounters(t *testing.T) {
	m := New(Config{})

	m.HandlePacket(tcpPacket(t, clientIP, serverIP, &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 100, SYN: true, Window: 1000}, 0), 10)
	m.HandlePacket(tcpPacket(t, serverIP, clientIP, &layers.TCP{SrcPort: 80, DstPort: 40000, Seq: 500, Ack: 101, SYN: true, ACK: true, Window: 1000}, 0), 20)
	m.HandlePacket(tcpPacket(t, clientIP, serverIP, &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 101, Ack: 501, ACK: true, Window: 1000}, 0), 30)

	data := &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 101, Ack: 501, ACK: true, PSH: true, Window: 1000}
	m.HandlePacket(tcpPacket(t, clientIP, serverIP, data, 100), 40)
	m.HandlePacket(tcpPacket(t, clientIP, serverIP, data, 100), 50)

	m.HandlePacket(tcpPacket(t, serverIP, clientIP, &layers.TCP{SrcPort: 80, DstPort: 40000, Seq: 501, Ack: 201, RST: true}, 0), 60)

	key, err := m.Classify(core.RawPacket{Data: tcpPacket(t, serverIP, clientIP, &layers.TCP{SrcPort: 80, DstPort: 40000}, 0)})
	require.NoError(t, err)
	s, ok := m.Lookup(key)
	require.True(t, ok)

	tr, ok := s.TCP()
	require.True(t, ok)
	assert.True(t, tr.Closed())
	assert.IsType(t, &tcp.Closed{}, tr.State())
	assert.Equal(t, uint64(1), tr.Stats(core.ClientToServer).Retransmits)

	st := m.Stats()
	assert.Equal(t, uint64(6), st.Packets)
	assert.Equal(t, uint64(1), st.SessionsCreated)
	assert.Equal(t, uint64(1), st.TCPRetransmits)
	assert.Equal(t, uint64(1), st.TCPResets)
}

func TestClassifyIsPure(t *testing.T) {
	m := New(Config{})

	a, err := m.Classify(core.RawPacket{Data: udpPacket(t, clientIP, serverIP, 5000, 53, 4)})
	require.NoError(t, err)
	b, err := m.Classify(core.RawPacket{Data: udpPacket(t, serverIP, clientIP, 53, 5000, 4)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Zero(t, m.Len())
	assert.Zero(t, m.Stats().SessionsCreated)

	_, err = m.Classify(core.RawPacket{Data: []byte{0x45}})
	assert.ErrorIs(t, err, core.DropTooShort)
	assert.ErrorIs(t, err, core.ErrMalformedPacket)
}

func TestClassifyNeverReassembles(t *testing.T) {
	calls := 0
	m := New(Config{FragmentHandler: decoder.FragmentHandlerFunc(func(core.Fragment) ([]byte, bool, error) {
		calls++
		return nil, false, nil
	})})

	ip := ipv4(clientIP, serverIP, layers.IPProtocolUDP)
	ip.Flags = layers.IPv4MoreFragments
	frag := serialize(t, ip, gopacket.Payload(make([]byte, 16)))

	_, err := m.Classify(core.RawPacket{Data: frag})
	assert.ErrorIs(t, err, core.DropFragment)
	assert.Zero(t, calls)

	m.HandlePacket(frag, 1)
	assert.Equal(t, 1, calls)
	st := m.Stats()
	assert.Equal(t, uint64(1), st.FragmentsHeld)
	assert.Zero(t, st.DroppedTotal())
}

func TestSweepAndFlush(t *testing.T) {
	m := New(Config{Idle: session.IdlePolicy{UDP: 100}})

	m.HandlePacket(udpPacket(t, clientIP, serverIP, 5000, 53, 1), 10)
	m.HandlePacket(udpPacket(t, clientIP, serverIP, 5001, 53, 1), 90)

	assert.Empty(t, m.SweepAt(50))
	assert.Empty(t, m.Sweep())

	expired := m.SweepAt(150)
	require.Len(t, expired, 1)
	assert.Equal(t, uint16(5000), expired[0].Session.Tuple.ClientPort)
	assert.Equal(t, 1, m.Len())

	flushed := m.Flush()
	require.Len(t, flushed, 1)
	assert.Zero(t, m.Len())
	assert.Equal(t, uint64(2), m.Stats().SessionsExpired)
}

func TestExternalClock(t *testing.T) {
	now := uint64(1000)
	m := New(Config{Idle: session.IdlePolicy{UDP: 100}, Clock: func() uint64 { return now }})

	m.HandlePacket(udpPacket(t, clientIP, serverIP, 5000, 53, 1), 10)
	assert.Equal(t, uint64(1000), m.Now())
	assert.Len(t, m.Sweep(), 1)
}

func TestStatsSub(t *testing.T) {
	prev := Stats{Packets: 10, Bytes: 100, ActiveSessions: 3}
	prev.Drops[core.DropIPv6] = 2
	cur := Stats{Packets: 15, Bytes: 160, ActiveSessions: 1, SessionsExpired: 2}
	cur.Drops[core.DropIPv6] = 5

	d := cur.Sub(prev)
	assert.Equal(t, uint64(5), d.Packets)
	assert.Equal(t, uint64(60), d.Bytes)
	assert.Equal(t, uint64(3), d.Drops[core.DropIPv6])
	assert.Equal(t, uint64(2), d.SessionsExpired)
	assert.Equal(t, 1, d.ActiveSessions)

	var total Stats
	total.Add(d)
	total.Add(d)
	assert.Equal(t, uint64(10), total.Packets)
	assert.Equal(t, uint64(6), total.DroppedTotal())
}
