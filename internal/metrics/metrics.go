// Package metrics implements Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/monitor"
)

var (
	// PacketsTotal counts packets applied to a session
	PacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_packets_total",
			Help: "Total number of packets applied to a session",
		},
	)

	// BytesTotal counts transport bytes of those packets
	BytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_bytes_total",
			Help: "Total transport bytes (header and payload) applied to a session",
		},
	)

	// DropsTotal counts packets discarded before touching any session
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmon_drops_total",
			Help: "Total number of dropped packets by reason",
		},
		[]string{"reason"},
	)

	FragmentsHeldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_fragments_held_total",
			Help: "Total number of IPv4 fragments held for reassembly",
		},
	)

	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	// SessionsActive tracks live sessions per shard
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmon_sessions_active",
			Help: "Current number of live sessions",
		},
		[]string{"shard"},
	)

	SessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_sessions_evicted_total",
			Help: "Total number of sessions removed by idle sweep or flush",
		},
	)

	TCPAnomaliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_tcp_anomalies_total",
			Help: "Total number of TCP segments that violated the state machine",
		},
	)

	TCPRetransmitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_tcp_retransmits_total",
			Help: "Total number of TCP retransmissions",
		},
	)

	TCPResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmon_tcp_resets_total",
			Help: "Total number of TCP resets",
		},
	)

	// SourceReadErrorsTotal counts errors returned by packet sources
	SourceReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmon_source_read_errors_total",
			Help: "Total number of packet source read errors",
		},
		[]string{"source"},
	)

	// SourceLinkDropsTotal counts frames the link decoder could not strip
	SourceLinkDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmon_source_link_drops_total",
			Help: "Total number of frames without an IPv4 payload",
		},
		[]string{"source"},
	)

	// ReporterRecordsTotal counts session records written by reporters
	ReporterRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmon_reporter_records_total",
			Help: "Total number of session records reported",
		},
		[]string{"reporter"},
	)

	// ReporterErrorsTotal counts reporter errors by name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmon_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter"},
	)

	// SweepDurationSeconds measures one sweep across all shards
	SweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowmon_sweep_duration_seconds",
			Help:    "Duration of idle sweeps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 18), // 10µs to ~1.3s
		},
	)
)

// Publish adds the counter deltas of one shard. It is shaped to be used as
// monitor.ShardedConfig.OnStats.
func Publish(shard int, d monitor.Stats) {
	PacketsTotal.Add(float64(d.Packets))
	BytesTotal.Add(float64(d.Bytes))
	for r, n := range d.Drops {
		if n == 0 {
			continue
		}
		DropsTotal.WithLabelValues(core.DropReason(r).String()).Add(float64(n))
	}
	FragmentsHeldTotal.Add(float64(d.FragmentsHeld))
	SessionsCreatedTotal.Add(float64(d.SessionsCreated))
	SessionsEvictedTotal.Add(float64(d.SessionsExpired))
	TCPAnomaliesTotal.Add(float64(d.TCPAnomalies))
	TCPRetransmitsTotal.Add(float64(d.TCPRetransmits))
	TCPResetsTotal.Add(float64(d.TCPResets))
	SessionsActive.WithLabelValues(strconv.Itoa(shard)).Set(float64(d.ActiveSessions))
}
