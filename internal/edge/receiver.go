package edge

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/tick"
)

// Receiver normalizes decoded ticks into Edge Records and emits them
// over UDP to a single configured destination, with a periodic
// heartbeat during silence and a per-symbol gap flag derived from the
// exchange's update_id sequence.
type Receiver struct {
	conn *net.UDPConn

	seq atomic.Uint64 // process-monotonic, starts at 1

	lastUpdateID  [int(tick.MaxSymbolId) + 1]uint64
	haveLastID    [int(tick.MaxSymbolId) + 1]bool

	heartbeatInterval time.Duration
	lastEmitMono      atomic.Int64

	sendErrors atomic.Uint64
}

// NewReceiver dials a UDP "connection" to dest (UDP is connectionless;
// net.DialUDP here only fixes the destination so Receiver can use
// Write instead of WriteTo on every send).
func NewReceiver(dest string, heartbeatInterval time.Duration) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	r := &Receiver{conn: conn, heartbeatInterval: heartbeatInterval}
	r.lastEmitMono.Store(int64(clock.MonoNow()))
	return r, nil
}

// Close releases the underlying UDP socket.
func (r *Receiver) Close() error { return r.conn.Close() }

// Emit builds, CRCs, and sends one Edge Record for a decoded tick.
func (r *Receiver) Emit(t tick.Tick) {
	var flags uint8
	id := int(t.SymbolID)
	if id >= 0 && id < len(r.lastUpdateID) {
		if r.haveLastID[id] && t.UpdateID != r.lastUpdateID[id]+1 {
			flags |= FlagGapDetected
		}
		r.lastUpdateID[id] = t.UpdateID
		r.haveLastID[id] = true
	}

	rec := Record{
		Version:      Version,
		Flags:        flags,
		SymbolID:     uint8(t.SymbolID),
		Seq:          r.nextSeq(),
		ExchangeTsNs: t.ExchangeTsNs,
		EdgeTsNs:     int64(clock.MonoNow()),
		Bid:          t.Bid,
		Ask:          t.Ask,
		BidQty:       t.BidQty,
		AskQty:       t.AskQty,
		UpdateID:     t.UpdateID,
	}
	r.send(rec)
}

// RunHeartbeat emits a heartbeat record whenever heartbeatInterval
// elapses with no other record sent, until stop is closed. Call this in
// its own goroutine.
func (r *Receiver) RunHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			since := clock.MonoNow().Sub(clock.MonoTs(r.lastEmitMono.Load()))
			if since >= r.heartbeatInterval {
				r.send(Record{
					Version:  Version,
					Flags:    FlagHeartbeat,
					SymbolID: HeartbeatSymbolID,
					Seq:      r.nextSeq(),
					EdgeTsNs: int64(clock.MonoNow()),
				})
			}
		}
	}
}

func (r *Receiver) nextSeq() uint64 {
	return r.seq.Add(1)
}

func (r *Receiver) send(rec Record) {
	buf := Encode(rec)
	r.lastEmitMono.Store(int64(clock.MonoNow()))
	if _, err := r.conn.Write(buf[:]); err != nil {
		r.sendErrors.Add(1)
		log.Warn().Err(err).Msg("edge receiver: udp send failed")
	}
}

// SendErrors returns the count of failed sendto calls.
func (r *Receiver) SendErrors() uint64 { return r.sendErrors.Load() }
