package edge

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/reorder"
)

// Consumer binds a UDP socket, validates incoming Edge Records, feeds
// them through a per-symbol reorder.Buffer, and tracks edge liveness so
// it can fail over to a direct Session Manager connection if the edge
// heartbeat stops.
type Consumer struct {
	conn *net.UDPConn

	buffers map[uint8]*reorder.Buffer
	deliver func(Record)

	heartbeatTimeout time.Duration
	stabilityWindow  time.Duration
	lastRecvMono     atomic.Int64

	malformed  atomic.Uint64
	onFailover func(active bool)
	usingEdge  atomic.Bool
}

// NewConsumer binds addr and constructs the per-symbol reorder buffers.
// deliver is called, in seq order per symbol, for every Edge Record the
// reorder buffers release. onFailover (optional) is invoked with false
// when the edge feed is judged dead (heartbeat timeout) and with true
// when it has recovered for a full stability window.
func NewConsumer(addr string, symbolIDs []uint8, reorderCapacity int, reorderTimeout, heartbeatTimeout, stabilityWindow time.Duration, deliver func(Record), onFailover func(active bool)) (*Consumer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		conn:             conn,
		buffers:          make(map[uint8]*reorder.Buffer, len(symbolIDs)),
		deliver:          deliver,
		heartbeatTimeout: heartbeatTimeout,
		stabilityWindow:  stabilityWindow,
		onFailover:       onFailover,
	}
	for _, id := range symbolIDs {
		id := id
		c.buffers[id] = reorder.New(reorderCapacity, reorderTimeout, 1, func(r Record) {
			c.deliver(r)
		})
	}
	c.lastRecvMono.Store(int64(clock.MonoNow()))
	c.usingEdge.Store(true)
	return c, nil
}

// Close releases the UDP socket.
func (c *Consumer) Close() error { return c.conn.Close() }

// Run reads datagrams until stop is closed, dispatching each to its
// per-symbol reorder buffer. It does not return until the socket is
// closed or stop fires, so call it from its own goroutine.
func (c *Consumer) Run(stop <-chan struct{}) {
	buf := make([]byte, RecordSize+1) // +1 to detect oversize datagrams
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		recvMono := clock.MonoNow()
		c.handleDatagram(buf[:n], recvMono)
	}
}

func (c *Consumer) handleDatagram(datagram []byte, recvMono clock.MonoTs) {
	rec, err := Decode(datagram)
	if err != nil {
		c.malformed.Add(1)
		log.Warn().Err(err).Msg("edge consumer: rejected datagram")
		return
	}

	c.lastRecvMono.Store(int64(recvMono))

	if rec.IsHeartbeat() {
		return
	}

	b, ok := c.buffers[rec.SymbolID]
	if !ok {
		c.malformed.Add(1)
		return
	}
	b.Arrive(rec, recvMono)
}

// RunLiveness polls heartbeat liveness at a short cadence and drives the
// failover/recovery transitions described in the specification.
func (c *Consumer) RunLiveness(stop <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeatTimeout / 5)
	defer ticker.Stop()

	edgeDown := false
	recovering := false
	var recoveredSinceMono clock.MonoTs

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.MonoNow()
			since := now.Sub(clock.MonoTs(c.lastRecvMono.Load()))

			for _, b := range c.buffers {
				b.Tick(now)
			}

			if !edgeDown {
				if since >= c.heartbeatTimeout {
					edgeDown = true
					c.usingEdge.Store(false)
					log.Warn().Msg("edge consumer: heartbeat timeout, failing over")
					if c.onFailover != nil {
						c.onFailover(false)
					}
				}
				continue
			}

			// edgeDown == true: watch for a sustained recovery window
			// before flipping back, so a single stray heartbeat does not
			// cause flapping between sources.
			if since >= c.heartbeatTimeout {
				recovering = false
				continue
			}
			if !recovering {
				recovering = true
				recoveredSinceMono = now
				continue
			}
			if now.Sub(recoveredSinceMono) >= c.stabilityWindow {
				edgeDown = false
				recovering = false
				c.usingEdge.Store(true)
				log.Info().Msg("edge consumer: edge recovered, flipping back")
				if c.onFailover != nil {
					c.onFailover(true)
				}
			}
		}
	}
}

// UsingEdge reports whether the edge feed (as opposed to the fallback
// direct Session Manager) is currently the active data source.
func (c *Consumer) UsingEdge() bool { return c.usingEdge.Load() }

// Malformed returns the count of rejected datagrams.
func (c *Consumer) Malformed() uint64 { return c.malformed.Load() }

// BufferSnapshot returns the reorder counters for one symbol id.
func (c *Consumer) BufferSnapshot(symbolID uint8) reorder.Counters {
	b, ok := c.buffers[symbolID]
	if !ok {
		return reorder.Counters{}
	}
	return b.Snapshot()
}
