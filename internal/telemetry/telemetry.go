// Package telemetry exposes the ingestion core's latency and session
// counters as Prometheus collectors, grounded on the teacher's
// internal/interfaces/http/metrics.go MetricsRegistry: one struct
// bundling a HistogramVec/GaugeVec/CounterVec family, constructed once
// and registered against a prometheus.Registry of its own, exposed via
// Gatherer.
//
// There is no admin HTTP surface here by design — the specification's
// Non-goals exclude a metrics HTTP endpoint, but ambient observability
// is carried anyway per the teacher's own metrics plumbing. Embedding
// applications wire Registry.Gatherer into whatever HTTP mux they
// already run.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the process's Prometheus collectors.
type Registry struct {
	WireLatencyUs     *prometheus.HistogramVec
	DecodeLatencyUs   *prometheus.HistogramVec
	HandoffLatencyUs  *prometheus.HistogramVec
	ConnectionSamples *prometheus.CounterVec
	SessionState      *prometheus.GaugeVec
	EdgeGaps          *prometheus.CounterVec
	EdgeDuplicates    *prometheus.CounterVec
	ReorderMissed     *prometheus.CounterVec
	ParseErrors       *prometheus.CounterVec
	ClockStaleness    prometheus.Gauge

	reg *prometheus.Registry
}

// NewRegistry constructs and registers the full collector family against
// a fresh prometheus.Registry. Callers embedding this in an existing
// HTTP server can obtain an http.Handler via promhttp.HandlerFor(r.Gatherer(), ...).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		WireLatencyUs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tickcore",
			Subsystem: "latency",
			Name:      "wire_microseconds",
			Help:      "One-way exchange-to-consumer latency in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 20),
		}, []string{"symbol"}),
		DecodeLatencyUs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tickcore",
			Subsystem: "latency",
			Name:      "decode_microseconds",
			Help:      "Frame-receipt-to-decoded-tick latency in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"symbol"}),
		HandoffLatencyUs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tickcore",
			Subsystem: "latency",
			Name:      "handoff_microseconds",
			Help:      "Decoded-tick-to-snapshot-publish latency in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"symbol"}),
		ConnectionSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcore",
			Subsystem: "session",
			Name:      "connection_attempts_total",
			Help:      "Session Manager connection attempts by outcome.",
		}, []string{"outcome"}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tickcore",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current Session Manager state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		EdgeGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcore",
			Subsystem: "edge",
			Name:      "gaps_total",
			Help:      "Edge Consumer detected sequence gaps.",
		}, []string{"symbol"}),
		EdgeDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcore",
			Subsystem: "edge",
			Name:      "duplicates_total",
			Help:      "Edge Consumer detected duplicate sequence numbers.",
		}, []string{"symbol"}),
		ReorderMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcore",
			Subsystem: "reorder",
			Name:      "missed_total",
			Help:      "Reorder buffer entries evicted as permanently missing.",
		}, []string{"symbol"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcore",
			Subsystem: "decode",
			Name:      "parse_errors_total",
			Help:      "Wire Decoder failures by reason.",
		}, []string{"reason"}),
		ClockStaleness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickcore",
			Subsystem: "clock",
			Name:      "staleness_seconds",
			Help:      "Seconds since the Clock Health Monitor last successfully sampled.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		r.WireLatencyUs, r.DecodeLatencyUs, r.HandoffLatencyUs,
		r.ConnectionSamples, r.SessionState,
		r.EdgeGaps, r.EdgeDuplicates, r.ReorderMissed, r.ParseErrors,
		r.ClockStaleness,
	)
	return r
}

// Gatherer exposes the underlying registry for HTTP exposition.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
