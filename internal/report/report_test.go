package report

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/session"
	"firestige.xyz/flowmon/internal/session/tcp"
	"firestige.xyz/flowmon/internal/session/udp"
)

type mockReporter struct {
	mock.Mock
	name string
}

func (m *mockReporter) Name() string { return m.name }

func (m *mockReporter) Report(ctx context.Context, records []Record) error {
	return m.Called(ctx, records).Error(0)
}

func (m *mockReporter) Close() error {
	return m.Called().Error(0)
}

var opened []*mockReporter

func init() {
	Register("test-ok", func(name string, _ map[string]any) (Reporter, error) {
		r := &mockReporter{name: name}
		r.On("Close").Return(nil)
		opened = append(opened, r)
		return r, nil
	})
	Register("test-fail", func(string, map[string]any) (Reporter, error) {
		return nil, errors.New("bad options")
	})
}

const sec = uint64(time.Second)

func udpSnapshot() session.Snapshot {
	return session.Snapshot{
		Client:   netip.MustParseAddrPort("10.0.0.1:5353"),
		Server:   netip.MustParseAddrPort("10.0.0.2:53"),
		Protocol: 17,
		Start:    1700000000 * sec,
		LastTx:   1700000000*sec + 10,
		LastRx:   1700000000*sec + 500,
		Stats:    session.Stats{PacketsTx: 1, PacketsRx: 1, BytesTx: 40, BytesRx: 80},
		Info:     session.DNSInfo{Query: "example.com", Status: 0, Latency: 490},
		UDP: &udp.Summary{
			Client: udp.HostStats{Packets: 1, Bytes: 32},
			Server: udp.HostStats{Packets: 1, Bytes: 72},
		},
	}
}

func TestNewRecordUDP(t *testing.T) {
	r := NewRecord("node-1", ReasonExpired, udpSnapshot())

	assert.Equal(t, "node-1", r.Node)
	assert.Equal(t, ReasonExpired, r.Reason)
	assert.Equal(t, "udp", r.Protocol)
	assert.Equal(t, "10.0.0.1:5353", r.Client)
	assert.Equal(t, "10.0.0.2:53", r.Server)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.Start)
	assert.Equal(t, time.Duration(500), r.Duration)
	assert.Equal(t, uint64(40), r.BytesTx)
	require.NotNil(t, r.UDP)
	assert.Equal(t, uint64(72), r.UDP.ServerPayloadBytes)
	assert.Nil(t, r.TCP)
	assert.Equal(t, "dns", r.App["kind"])
	assert.Equal(t, "example.com", r.App["query"])
	assert.Equal(t, "udp:10.0.0.1:5353-10.0.0.2:53", r.Key())
}

func TestNewRecordTCP(t *testing.T) {
	snap := session.Snapshot{
		Client:   netip.MustParseAddrPort("10.0.0.1:40000"),
		Server:   netip.MustParseAddrPort("10.0.0.2:80"),
		Protocol: 6,
		Start:    sec,
		LastTx:   2 * sec,
		TCP: &tcp.Summary{
			State:        "closed",
			Reset:        true,
			Client:       tcp.HostStats{Retransmits: 2, RetransmitBytes: 100},
			Server:       tcp.HostStats{RstCount: 1},
			ClientSeq:    tcp.HostSeq{DataBytes: 500},
			ServerRTT:    1000,
			HasServerRTT: true,
		},
	}

	r := NewRecord("", ReasonFlush, snap)
	require.NotNil(t, r.TCP)
	assert.Equal(t, "tcp", r.Protocol)
	assert.Equal(t, "closed", r.TCP.State)
	assert.True(t, r.TCP.Reset)
	assert.Equal(t, uint32(2), r.TCP.Client.Retransmits)
	assert.Equal(t, uint64(500), r.TCP.Client.DataBytes)
	assert.Equal(t, uint32(1), r.TCP.Server.Resets)
	assert.Equal(t, time.Duration(1000), r.TCP.ServerRTT)
	assert.Zero(t, r.TCP.ClientRTT)
	assert.Equal(t, time.Second, r.Duration)
	assert.Nil(t, r.App)
}

func TestNewRecordOtherProtocol(t *testing.T) {
	snap := session.Snapshot{
		Client:   netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), 0),
		Server:   netip.AddrPortFrom(netip.MustParseAddr("10.0.0.2"), 0),
		Protocol: 47,
	}
	r := NewRecord("", ReasonSnapshot, snap)
	assert.Equal(t, "gre", r.Protocol)
	assert.Equal(t, "10.0.0.1", r.Client)
	assert.True(t, r.Start.IsZero())

	snap.Protocol = 253
	assert.Equal(t, "253", NewRecord("", ReasonSnapshot, snap).Protocol)
}

func TestRecordEncode(t *testing.T) {
	r := NewRecord("node-1", ReasonExpired, udpSnapshot())

	data, err := r.Encode(EncodingJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"client":"10.0.0.1:5353"`)
	assert.Contains(t, string(data), `"duration_ns":500`)

	data, err = r.Encode(EncodingProto)
	require.NoError(t, err)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	assert.Equal(t, "10.0.0.2:53", s.Fields["server"].GetStringValue())
	assert.Equal(t, float64(80), s.Fields["bytes_rx"].GetNumberValue())
	assert.Equal(t, "dns", s.Fields["app"].GetStructValue().Fields["kind"].GetStringValue())

	_, err = r.Encode("xml")
	assert.Error(t, err)
	assert.False(t, Encoding("xml").Valid())
}

func TestMultiReport(t *testing.T) {
	ctx := context.Background()
	records := []Record{NewRecord("", ReasonFlush, udpSnapshot())}

	ok := &mockReporter{name: "ok"}
	ok.On("Report", ctx, records).Return(nil)
	bad := &mockReporter{name: "bad"}
	bad.On("Report", ctx, records).Return(errors.New("unreachable"))

	m := NewMulti(bad, ok)
	err := m.Report(ctx, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: unreachable")
	ok.AssertExpectations(t)
	bad.AssertExpectations(t)

	assert.NoError(t, m.Report(ctx, nil))
	ok.AssertNumberOfCalls(t, "Report", 1)
}

func TestMultiClose(t *testing.T) {
	a := &mockReporter{name: "a"}
	a.On("Close").Return(errors.New("a failed"))
	b := &mockReporter{name: "b"}
	b.On("Close").Return(errors.New("b failed"))

	err := NewMulti(a, b).Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")
	b.AssertCalled(t, "Close")
}

func TestOpen(t *testing.T) {
	opened = nil
	m, err := Open([]config.ReporterConfig{{Type: "test-ok", Name: "first"}, {Type: "test-ok"}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	require.Len(t, opened, 2)
	assert.Equal(t, "first", opened[0].Name())
	assert.Equal(t, "test-ok", opened[1].Name())
	require.NoError(t, m.Close())

	opened = nil
	_, err = Open([]config.ReporterConfig{{Type: "test-ok"}, {Type: "test-fail"}})
	require.Error(t, err)
	require.Len(t, opened, 1)
	opened[0].AssertCalled(t, "Close")

	_, err = Open([]config.ReporterConfig{{Type: "nope"}})
	assert.Error(t, err)

	assert.Contains(t, Types(), "test-ok")
}

func TestRegisterDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register("test-ok", nil)
	})
}
