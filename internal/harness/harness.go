// Package harness implements the Latency Harness: connection-phase and
// per-message latency recording, jitter estimation, and CSV export.
// Recording is O(1) per sample and does no IO, but it is not
// allocation-free: the per-symbol wire histogram and jitter lookups build a
// candidate value on every call, and each selected sample gets a uuid and
// a slice append. CSV writes happen on a background flush, never inline
// with decode/publish.
//
// Grounded on the teacher's telemetry/latency/hist.go for the general
// shape of a sample-recording type with derived statistics, generalized
// here to the two sample kinds (connection-phase, per-message) the
// specification calls for; the histogram bucketing itself now lives in
// internal/histogram, which supersedes hist.go's mutex+sorted-slice
// approach.
package harness

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/histogram"
	"github.com/sawpanic/tickcore/internal/telemetry"
)

// ConnectionSample records one connect attempt's phase latencies.
type ConnectionSample struct {
	SampleID      string
	WallClock     time.Time
	DNSNs         int64
	TCPNs         int64
	TLSNs         int64
	WSUpgradeNs   int64
	SubscribeNs   int64
	TotalNs       int64
	RemoteAddr    string
	TLSVersion    string
	TLSCipher     string
	Success       bool
	ErrorReason   string
}

// MessageSample records one decoded message's latency chain.
type MessageSample struct {
	SampleID      string
	Symbol        string
	WallClockISO  time.Time
	ExchangeTsMs  int64
	RecvMonoNs    int64
	DecodedMonoNs int64
	HandoffMonoNs int64
	StrategyMonoNs int64 // zero if not recorded
	DecodeLatencyNs  int64
	HandoffLatencyNs int64
	TotalInternalNs  int64
	WireLatencyNs    int64 // 0 and WireLatencyKnown=false if clock unsynced
	WireLatencyKnown bool
	MessageSize      int
	Sequence         uint64
	BestBid          int64
	BestAsk          int64
}

// jitterState tracks the RFC 3550-style jitter EMA per symbol.
type jitterState struct {
	mu       sync.Mutex
	lastWire int64
	haveLast bool
	jitterNs float64
}

// Harness aggregates connection and per-message samples, derives
// histograms per symbol, and exports CSV on demand.
type Harness struct {
	sampleEvery uint64 // 1, 10, or 100
	counter     atomic.Uint64

	wireHist    sync.Map // symbol -> *histogram.Histogram
	decodeHist  *histogram.Histogram
	handoffHist *histogram.Histogram

	jitter sync.Map // symbol -> *jitterState

	mu          sync.Mutex
	connSamples []ConnectionSample
	msgSamples  []MessageSample
	sampleCap   int

	streaming       atomic.Bool
	lastFrameMonoNs atomic.Int64
	reconnectsTotal atomic.Uint64
	parseErrors     atomic.Uint64
	lastOffsetNs    atomic.Int64
	lastOneWayValid atomic.Bool

	reg          *telemetry.Registry
	stateMu      sync.Mutex
	currentState string
}

// New constructs a Harness. sampleEvery is the sampling denominator (1,
// 10, or 100); sampleCap bounds each in-memory sample slice, dropping the
// oldest samples once it is exceeded. CSV export does not remove samples.
func New(sampleEvery int, sampleCap int) *Harness {
	return &Harness{
		sampleEvery: uint64(sampleEvery),
		decodeHist:  histogram.New(),
		handoffHist: histogram.New(),
		sampleCap:   sampleCap,
	}
}

// SetTelemetry attaches a Prometheus registry; every subsequent
// RecordMessage/RecordConnection/SetSessionState/IncrementParseErrors
// call also updates its collectors. Optional — a Harness with no
// registry attached behaves exactly as before. Not safe to call
// concurrently with the recording methods; call once at startup.
func (h *Harness) SetTelemetry(reg *telemetry.Registry) { h.reg = reg }

// shouldSample applies the 1:N sampling policy with O(1) atomic state.
func (h *Harness) shouldSample() bool {
	n := h.counter.Add(1)
	return n%h.sampleEvery == 0
}

// RecordConnection appends a connection-phase sample unconditionally —
// connection attempts are rare enough that sampling does not apply.
func (h *Harness) RecordConnection(s ConnectionSample) {
	if s.SampleID == "" {
		s.SampleID = uuid.NewString()
	}
	h.mu.Lock()
	h.connSamples = append(h.connSamples, s)
	if len(h.connSamples) > h.sampleCap {
		h.connSamples = h.connSamples[len(h.connSamples)-h.sampleCap:]
	}
	h.mu.Unlock()

	if h.reg != nil {
		outcome := "failure"
		if s.Success {
			outcome = "success"
		}
		h.reg.ConnectionSamples.WithLabelValues(outcome).Inc()
	}
}

// RecordMessage derives internal latencies, applies sampling, updates
// per-symbol histograms and jitter, and appends a sample when selected.
// health supplies the Clock Health snapshot used to gate one-way
// latency recording. recvWallNs is the wall-clock nanosecond timestamp
// captured alongside recvMonoNs.
func (h *Harness) RecordMessage(symbol string, exchangeTsMs int64, recvMonoNs, decodedMonoNs, handoffMonoNs, strategyMonoNs int64, recvWallNs int64, health clock.Health, size int, seq uint64, bid, ask int64) {
	decodeLatency := decodedMonoNs - recvMonoNs
	handoffLatency := handoffMonoNs - decodedMonoNs
	var totalInternal int64
	if strategyMonoNs != 0 {
		totalInternal = strategyMonoNs - recvMonoNs
	}

	// The histograms take microseconds; latencies here are nanoseconds.
	h.decodeHist.Record(decodeLatency / int64(time.Microsecond))
	h.handoffHist.Record(handoffLatency / int64(time.Microsecond))

	h.lastOffsetNs.Store(health.OffsetNs)
	h.lastOneWayValid.Store(health.OneWayValid())

	if h.reg != nil {
		h.reg.DecodeLatencyUs.WithLabelValues(symbol).Observe(float64(decodeLatency) / 1000)
		h.reg.HandoffLatencyUs.WithLabelValues(symbol).Observe(float64(handoffLatency) / 1000)
	}

	var wireLatency int64
	var wireKnown bool
	if health.OneWayValid() {
		wireLatency = recvWallNs - exchangeTsMs*int64(time.Millisecond)
		wireKnown = true
		hv, _ := h.wireHist.LoadOrStore(symbol, histogram.New())
		hv.(*histogram.Histogram).Record(wireLatency / int64(time.Microsecond))
		h.updateJitter(symbol, wireLatency)
		if h.reg != nil {
			h.reg.WireLatencyUs.WithLabelValues(symbol).Observe(float64(wireLatency) / 1000)
		}
	}

	if !h.shouldSample() {
		return
	}

	sample := MessageSample{
		SampleID:         uuid.NewString(),
		Symbol:           symbol,
		WallClockISO:     time.Unix(0, recvWallNs).UTC(),
		ExchangeTsMs:     exchangeTsMs,
		RecvMonoNs:       recvMonoNs,
		DecodedMonoNs:    decodedMonoNs,
		HandoffMonoNs:    handoffMonoNs,
		StrategyMonoNs:   strategyMonoNs,
		DecodeLatencyNs:  decodeLatency,
		HandoffLatencyNs: handoffLatency,
		TotalInternalNs:  totalInternal,
		WireLatencyNs:    wireLatency,
		WireLatencyKnown: wireKnown,
		MessageSize:      size,
		Sequence:         seq,
		BestBid:          bid,
		BestAsk:          ask,
	}

	h.mu.Lock()
	h.msgSamples = append(h.msgSamples, sample)
	if len(h.msgSamples) > h.sampleCap {
		h.msgSamples = h.msgSamples[len(h.msgSamples)-h.sampleCap:]
	}
	h.mu.Unlock()
}

// updateJitter applies the RFC 3550 jitter EMA for one symbol.
func (h *Harness) updateJitter(symbol string, wireLatencyNs int64) {
	jv, _ := h.jitter.LoadOrStore(symbol, &jitterState{})
	js := jv.(*jitterState)

	js.mu.Lock()
	defer js.mu.Unlock()
	if js.haveLast {
		d := wireLatencyNs - js.lastWire
		if d < 0 {
			d = -d
		}
		js.jitterNs += (float64(d) - js.jitterNs) / 16
	}
	js.lastWire = wireLatencyNs
	js.haveLast = true
}

// Jitter returns the current jitter EMA in nanoseconds for symbol.
func (h *Harness) Jitter(symbol string) float64 {
	jv, ok := h.jitter.Load(symbol)
	if !ok {
		return 0
	}
	js := jv.(*jitterState)
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.jitterNs
}

// WireSummary returns the wire-latency histogram summary for symbol, or
// a zero-value Summary if no one-way latencies have yet been recorded.
func (h *Harness) WireSummary(symbol string) histogram.Summary {
	hv, ok := h.wireHist.Load(symbol)
	if !ok {
		return histogram.Summary{}
	}
	return hv.(*histogram.Histogram).Summary()
}

// DecodeSummary returns the cross-symbol decode-latency summary.
func (h *Harness) DecodeSummary() histogram.Summary { return h.decodeHist.Summary() }

// HandoffSummary returns the cross-symbol handoff-latency summary.
func (h *Harness) HandoffSummary() histogram.Summary { return h.handoffHist.Summary() }

// MarkStreaming updates the coarse health indicator exposed to
// operators: streaming state and last-frame timestamp.
func (h *Harness) MarkStreaming(streaming bool) { h.streaming.Store(streaming) }

// MarkFrame records the monotonic time of the most recently received frame.
func (h *Harness) MarkFrame(monoNs int64) { h.lastFrameMonoNs.Store(monoNs) }

// IncrementReconnects bumps the reconnect counter exposed in the health indicator.
func (h *Harness) IncrementReconnects() { h.reconnectsTotal.Add(1) }

// IncrementParseErrors counts one Wire Decoder failure, tagged by its
// decode.Reason (passed as a string so this package does not need to
// import internal/decode). Satisfies the error-handling design's
// per-reason Protocol error counting.
func (h *Harness) IncrementParseErrors(reason string) {
	h.parseErrors.Add(1)
	if h.reg != nil {
		h.reg.ParseErrors.WithLabelValues(reason).Inc()
	}
}

// SetSessionState records the Session Manager's current state for the
// Prometheus session_state gauge, zeroing the previously active state's
// gauge value. No-op if no telemetry registry is attached.
func (h *Harness) SetSessionState(state string) {
	if h.reg == nil {
		return
	}
	h.stateMu.Lock()
	prev := h.currentState
	h.currentState = state
	h.stateMu.Unlock()

	if prev != "" && prev != state {
		h.reg.SessionState.WithLabelValues(prev).Set(0)
	}
	h.reg.SessionState.WithLabelValues(state).Set(1)
}

// Health is the simple operator-facing health indicator named in the
// specification's Session Manager section, extended with the
// error-handling design's parse_errors counter and the clock-offset
// fields needed to judge one-way wire latency validity.
type Health struct {
	Streaming       bool
	LastFrameMonoNs int64
	ReconnectsTotal uint64
	ParseErrors     uint64
	ClockOffsetNs   int64
	OneWayValid     bool
}

// HealthIndicator returns the current coarse health snapshot.
func (h *Harness) HealthIndicator() Health {
	return Health{
		Streaming:       h.streaming.Load(),
		LastFrameMonoNs: h.lastFrameMonoNs.Load(),
		ReconnectsTotal: h.reconnectsTotal.Load(),
		ParseErrors:     h.parseErrors.Load(),
		ClockOffsetNs:   h.lastOffsetNs.Load(),
		OneWayValid:     h.lastOneWayValid.Load(),
	}
}

// ConnectionSamples returns a copy of the retained connection samples.
func (h *Harness) ConnectionSamples() []ConnectionSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ConnectionSample, len(h.connSamples))
	copy(out, h.connSamples)
	return out
}

// MessageSamples returns a copy of the retained per-message samples.
func (h *Harness) MessageSamples() []MessageSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]MessageSample, len(h.msgSamples))
	copy(out, h.msgSamples)
	return out
}
