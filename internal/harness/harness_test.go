package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickcore/internal/clock"
)

func validHealth() clock.Health {
	h := clock.Health{Synced: true, StepDetected: false, NsSinceStep: int64(clock.StepCooldown) + 1}
	return h
}

func invalidHealth() clock.Health {
	return clock.Health{Synced: false}
}

func TestRecordMessage_SamplingEveryOne(t *testing.T) {
	h := New(1, 100)
	for i := 0; i < 5; i++ {
		h.RecordMessage("BTCUSDT", 1000, int64(i*1000), int64(i*1000+100), int64(i*1000+150), 0, int64(i*1000+500), invalidHealth(), 64, uint64(i), 1, 2)
	}
	assert.Len(t, h.MessageSamples(), 5)
}

func TestRecordMessage_SamplingEveryTen(t *testing.T) {
	h := New(10, 1000)
	for i := 0; i < 25; i++ {
		h.RecordMessage("BTCUSDT", 1000, 0, 100, 150, 0, 500, invalidHealth(), 64, uint64(i), 1, 2)
	}
	assert.Len(t, h.MessageSamples(), 2) // samples 10, 20
}

func TestRecordMessage_OneWaySuppressedWhenClockInvalid(t *testing.T) {
	h := New(1, 100)
	h.RecordMessage("BTCUSDT", 1000, 0, 100, 150, 0, 500, invalidHealth(), 64, 1, 1, 2)

	samples := h.MessageSamples()
	require.Len(t, samples, 1)
	assert.False(t, samples[0].WireLatencyKnown)
	assert.EqualValues(t, 100, samples[0].DecodeLatencyNs)
	assert.EqualValues(t, 50, samples[0].HandoffLatencyNs)
}

func TestRecordMessage_OneWayRecordedWhenClockValid(t *testing.T) {
	h := New(1, 100)
	recvWallNs := int64(5 * time.Millisecond)
	h.RecordMessage("BTCUSDT", 5, 0, 100, 150, 0, recvWallNs, validHealth(), 64, 1, 1, 2)

	samples := h.MessageSamples()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].WireLatencyKnown)
	assert.EqualValues(t, 0, samples[0].WireLatencyNs)

	summary := h.WireSummary("BTCUSDT")
	assert.EqualValues(t, 1, summary.Count)
}

func TestJitter_EMAConverges(t *testing.T) {
	h := New(1, 1000)
	base := int64(10 * time.Millisecond)
	for i := 0; i < 50; i++ {
		h.RecordMessage("ETHUSDT", int64(i), 0, 0, 0, 0, base, validHealth(), 0, uint64(i), 0, 0)
	}
	assert.InDelta(t, 0, h.Jitter("ETHUSDT"), 1.0, "jitter should converge toward zero for identical wire latencies")
}

func TestHealthIndicator_TracksStreamingAndReconnects(t *testing.T) {
	h := New(1, 10)
	h.MarkStreaming(true)
	h.MarkFrame(12345)
	h.IncrementReconnects()
	h.IncrementReconnects()

	ind := h.HealthIndicator()
	assert.True(t, ind.Streaming)
	assert.EqualValues(t, 12345, ind.LastFrameMonoNs)
	assert.EqualValues(t, 2, ind.ReconnectsTotal)
}

func TestExportMessagesCSV_WritesHeaderOnce(t *testing.T) {
	h := New(1, 10)
	h.RecordMessage("BTCUSDT", 1000, 0, 100, 150, 0, 500, invalidHealth(), 64, 1, 1, 2)

	dir := t.TempDir()
	path := filepath.Join(dir, "messages.csv")

	require.NoError(t, h.ExportMessagesCSV(path))
	require.NoError(t, h.ExportMessagesCSV(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	// one header + two append rounds of one sample each = 3 lines
	assert.Equal(t, 3, len(lines))
	assert.Contains(t, lines[0], "sample_id")
}

func TestExportConnectionsCSV_WritesRows(t *testing.T) {
	h := New(1, 10)
	h.RecordConnection(ConnectionSample{Success: true, RemoteAddr: "1.2.3.4:443"})

	dir := t.TempDir()
	path := filepath.Join(dir, "connections.csv")
	require.NoError(t, h.ExportConnectionsCSV(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.2.3.4:443")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
