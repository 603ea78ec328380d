package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/session"
	"firestige.xyz/flowmon/internal/session/tcp"
)

// Why a record was produced.
const (
	ReasonExpired  = "expired"  // removed by an idle sweep
	ReasonFlush    = "flush"    // removed at shutdown or end of a replay
	ReasonSnapshot = "snapshot" // copied from a live table
)

// Record is the exported form of one session. Packet timestamps are
// interpreted as Unix nanoseconds.
type Record struct {
	Node     string        `json:"node,omitempty"`
	Reason   string        `json:"reason"`
	Protocol string        `json:"protocol"`
	Client   string        `json:"client"`
	Server   string        `json:"server"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration_ns"`

	PacketsTx uint64 `json:"packets_tx"`
	PacketsRx uint64 `json:"packets_rx"`
	BytesTx   uint64 `json:"bytes_tx"`
	BytesRx   uint64 `json:"bytes_rx"`

	TCP *TCPRecord     `json:"tcp,omitempty"`
	UDP *UDPRecord     `json:"udp,omitempty"`
	App map[string]any `json:"app,omitempty"`
}

// TCPRecord carries the connection state and per-direction counters. The
// client side is the sender of the first packet.
type TCPRecord struct {
	State     string        `json:"state"`
	Midstream bool          `json:"midstream,omitempty"`
	Reset     bool          `json:"reset,omitempty"`
	ServerRTT time.Duration `json:"server_rtt_ns,omitempty"`
	ClientRTT time.Duration `json:"client_rtt_ns,omitempty"`

	Client TCPHost `json:"client"`
	Server TCPHost `json:"server"`
}

type TCPHost struct {
	DataBytes           uint64 `json:"data_bytes"`
	Retransmits         uint32 `json:"retransmits"`
	RetransmitBytes     uint64 `json:"retransmit_bytes"`
	SpuriousRetransmits uint32 `json:"spurious_retransmits"`
	OutOfOrder          uint32 `json:"out_of_order"`
	Keepalives          uint32 `json:"keepalives"`
	Anomalies           uint32 `json:"anomalies"`
	Resets              uint32 `json:"resets"`
}

// UDPRecord carries datagram payload bytes, headers excluded.
type UDPRecord struct {
	ClientPayloadBytes uint64 `json:"client_payload_bytes"`
	ServerPayloadBytes uint64 `json:"server_payload_bytes"`
}

// NewRecord converts snap.
func NewRecord(node, reason string, snap session.Snapshot) Record {
	r := Record{
		Node:     node,
		Reason:   reason,
		Protocol: protocolName(snap.Protocol),
		Client:   snap.Client.String(),
		Server:   snap.Server.String(),
		Start:    timestamp(snap.Start),
		End:      timestamp(max(snap.LastTx, snap.LastRx)),

		PacketsTx: snap.Stats.PacketsTx,
		PacketsRx: snap.Stats.PacketsRx,
		BytesTx:   snap.Stats.BytesTx,
		BytesRx:   snap.Stats.BytesRx,
	}
	if snap.Protocol != core.ProtocolTCP && snap.Protocol != core.ProtocolUDP {
		r.Client = snap.Client.Addr().String()
		r.Server = snap.Server.Addr().String()
	}
	if last := max(snap.LastTx, snap.LastRx); last > snap.Start {
		r.Duration = time.Duration(last - snap.Start)
	}

	if t := snap.TCP; t != nil {
		r.TCP = &TCPRecord{
			State:     t.State,
			Midstream: t.Midstream,
			Reset:     t.Reset,
			Client:    tcpHost(t.Client, t.ClientSeq),
			Server:    tcpHost(t.Server, t.ServerSeq),
		}
		if t.HasServerRTT {
			r.TCP.ServerRTT = time.Duration(t.ServerRTT)
		}
		if t.HasClientRTT {
			r.TCP.ClientRTT = time.Duration(t.ClientRTT)
		}
	}
	if u := snap.UDP; u != nil {
		r.UDP = &UDPRecord{ClientPayloadBytes: u.Client.Bytes, ServerPayloadBytes: u.Server.Bytes}
	}

	switch info := snap.Info.(type) {
	case session.HTTPInfo:
		r.App = map[string]any{
			"kind":          info.Kind(),
			"method":        info.Method,
			"uri":           info.URI,
			"status_code":   info.StatusCode,
			"response_time": time.Duration(info.ResponseTime),
		}
	case session.DNSInfo:
		r.App = map[string]any{
			"kind":     info.Kind(),
			"query":    info.Query,
			"response": info.Response,
			"status":   info.Status,
			"latency":  time.Duration(info.Latency),
		}
	case nil:
	default:
		r.App = map[string]any{"kind": info.Kind()}
	}
	return r
}

// FromExpired converts sessions removed from a table.
func FromExpired(node, reason string, expired []session.Expired) []Record {
	out := make([]Record, 0, len(expired))
	for _, e := range expired {
		out = append(out, NewRecord(node, reason, e.Session.Snapshot()))
	}
	return out
}

// FromSnapshots converts live session copies.
func FromSnapshots(node string, snaps []session.Snapshot) []Record {
	out := make([]Record, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewRecord(node, ReasonSnapshot, s))
	}
	return out
}

// Key identifies the session of r for partitioning.
func (r Record) Key() string {
	return r.Protocol + ":" + r.Client + "-" + r.Server
}

// JSON encodes r as a JSON object.
func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Struct converts r to a protobuf Struct with the same field names as the
// JSON encoding.
func (r Record) Struct() (*structpb.Struct, error) {
	data, err := r.JSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Encoding names a record wire format.
type Encoding string

const (
	EncodingJSON  Encoding = "json"
	EncodingProto Encoding = "proto"
)

// Encode marshals r in enc.
func (r Record) Encode(enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		return r.JSON()
	case EncodingProto:
		s, err := r.Struct()
		if err != nil {
			return nil, err
		}
		return proto.MarshalOptions{Deterministic: true}.Marshal(s)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Valid reports whether enc is a known encoding.
func (enc Encoding) Valid() bool {
	return enc == EncodingJSON || enc == EncodingProto
}

func tcpHost(s tcp.HostStats, seq tcp.HostSeq) TCPHost {
	return TCPHost{
		DataBytes:           seq.DataBytes,
		Retransmits:         s.Retransmits,
		RetransmitBytes:     s.RetransmitBytes,
		SpuriousRetransmits: s.SpuriousRetransmits,
		OutOfOrder:          s.OutOfOrder,
		Keepalives:          s.Keepalives,
		Anomalies:           s.Anomalies,
		Resets:              s.RstCount,
	}
}

func protocolName(p uint8) string {
	name := layers.IPProtocol(p).String()
	if strings.HasPrefix(name, "Unknown") {
		return strconv.Itoa(int(p))
	}
	return strings.ToLower(name)
}

func timestamp(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}
