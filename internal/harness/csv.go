package harness

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

const isoLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ExportMessagesCSV appends the currently retained message samples to
// path in the per-message schema, writing a header only if the file is
// new or empty. Append-only and bounded by the Harness's sample cap —
// callers typically call this on a periodic flush ticker, never inline
// with decode/publish.
func (h *Harness) ExportMessagesCSV(path string) error {
	samples := h.MessageSamples()
	return appendCSV(path, []string{
		"sample_id", "symbol", "wall_clock_iso", "exchange_ts_ms",
		"recv_mono_ns", "decoded_mono_ns", "handoff_mono_ns", "strategy_mono_ns",
		"decode_latency_ns", "handoff_latency_ns", "total_internal_ns",
		"wire_latency_ns", "wire_latency_known",
		"message_size", "sequence", "best_bid", "best_ask",
	}, func(w *csv.Writer) error {
		for _, s := range samples {
			row := []string{
				s.SampleID,
				s.Symbol,
				s.WallClockISO.Format(isoLayout),
				strconv.FormatInt(s.ExchangeTsMs, 10),
				strconv.FormatInt(s.RecvMonoNs, 10),
				strconv.FormatInt(s.DecodedMonoNs, 10),
				strconv.FormatInt(s.HandoffMonoNs, 10),
				strconv.FormatInt(s.StrategyMonoNs, 10),
				strconv.FormatInt(s.DecodeLatencyNs, 10),
				strconv.FormatInt(s.HandoffLatencyNs, 10),
				strconv.FormatInt(s.TotalInternalNs, 10),
				strconv.FormatInt(s.WireLatencyNs, 10),
				strconv.FormatBool(s.WireLatencyKnown),
				strconv.Itoa(s.MessageSize),
				strconv.FormatUint(s.Sequence, 10),
				strconv.FormatInt(s.BestBid, 10),
				strconv.FormatInt(s.BestAsk, 10),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportConnectionsCSV appends the currently retained connection samples
// to path in the per-connection schema.
func (h *Harness) ExportConnectionsCSV(path string) error {
	samples := h.ConnectionSamples()
	return appendCSV(path, []string{
		"sample_id", "wall_clock_iso",
		"dns_ns", "tcp_ns", "tls_ns", "ws_upgrade_ns", "subscribe_ns", "total_ns",
		"remote_addr", "tls_version", "tls_cipher", "success", "error_reason",
	}, func(w *csv.Writer) error {
		for _, s := range samples {
			row := []string{
				s.SampleID,
				s.WallClock.Format(isoLayout),
				strconv.FormatInt(s.DNSNs, 10),
				strconv.FormatInt(s.TCPNs, 10),
				strconv.FormatInt(s.TLSNs, 10),
				strconv.FormatInt(s.WSUpgradeNs, 10),
				strconv.FormatInt(s.SubscribeNs, 10),
				strconv.FormatInt(s.TotalNs, 10),
				s.RemoteAddr,
				s.TLSVersion,
				s.TLSCipher,
				strconv.FormatBool(s.Success),
				s.ErrorReason,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendCSV(path string, header []string, write func(*csv.Writer) error) error {
	info, statErr := os.Stat(path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv export %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := write(w); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	w.Flush()
	return w.Error()
}
