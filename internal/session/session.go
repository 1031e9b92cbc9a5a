// Package session implements the Session Manager state machine:
// Idle -> Resolving -> Connecting -> Handshaking -> Subscribing ->
// Streaming -> Draining -> Backoff -> (Resolving | Failed).
//
// Grounded on two corpus sources: internal/providers/kraken/websocket.go
// for the overall shape (a connect/read-loop/ping-loop/reconnect-channel
// goroutine trio around a *websocket.Conn) and internal/net/circuit/circuit.go
// for the explicit State-enum-plus-setState transition-recording style
// this package generalizes from request-admission to connection
// lifecycle.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/config"
	"github.com/sawpanic/tickcore/internal/decode"
	"github.com/sawpanic/tickcore/internal/harness"
	"github.com/sawpanic/tickcore/internal/snapshot"
	"github.com/sawpanic/tickcore/internal/symboltable"
)

// Subscriber sends whatever subscribe message(s) the exchange requires
// immediately after the WebSocket upgrade completes. The exchange's
// exact subscribe-ACK shape is configuration-dependent, so it is
// supplied by the caller rather than hardcoded here (see Design Note on
// Open Question "exchange subscribe-ACK parameterization" in DESIGN.md).
type Subscriber func(ctx context.Context, conn Conn, symbols []string) error

// Session drives one logical connection to the exchange, reconnecting
// with backoff on failure until Stop is called.
type Session struct {
	url       string
	symbols   []string
	dialer    Dialer
	subscribe Subscriber
	resolver  decode.SymbolResolver
	table     *symboltable.Table
	store     *snapshot.Store
	harness   *harness.Harness
	clockMon  *clock.Monitor
	cfg       config.SessionConfig
	rng       *rand.Rand

	state   atomic.Int32
	attempt atomic.Int32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Session. resolver and table are typically the same
// *symboltable.Table (Table implements decode.SymbolResolver).
func New(cfg config.SessionConfig, url string, symbols []string, dialer Dialer, subscribe Subscriber, resolver decode.SymbolResolver, table *symboltable.Table, store *snapshot.Store, h *harness.Harness, clockMon *clock.Monitor) *Session {
	return &Session{
		url:       url,
		symbols:   symbols,
		dialer:    dialer,
		subscribe: subscribe,
		resolver:  resolver,
		table:     table,
		store:     store,
		harness:   h,
		clockMon:  clockMon,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	log.Debug().Str("state", st.String()).Msg("session state transition")
	s.harness.SetSessionState(st.String())
}

// Run drives the reconnect loop until ctx is cancelled or Stop is
// called. It returns only after a graceful shutdown.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			s.setState(Failed)
			return
		default:
		}

		conn, sample, err := s.connect(ctx)
		s.harness.RecordConnection(sample)
		if err != nil {
			log.Warn().Err(err).Msg("session connect failed")
			s.setState(Backoff)
			s.harness.IncrementReconnects()
			if !s.sleepBackoff(ctx) {
				return
			}
			continue
		}

		s.attempt.Store(0)
		s.stream(ctx, conn)

		s.setState(Draining)
		s.drain(conn)

		s.setState(Backoff)
		s.harness.IncrementReconnects()

		select {
		case <-s.stopCh:
			s.setState(Failed)
			return
		case <-ctx.Done():
			return
		default:
		}
		if !s.sleepBackoff(ctx) {
			return
		}
	}
}

// Stop signals the run loop to drain and exit, and blocks until it has.
func (s *Session) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

// drain closes the socket with a bounded timeout; the teacher's
// websocket.go issues a close-handshake write before closing, which this
// generalizes with a short deadline so a single unresponsive peer cannot
// stall the reconnect loop past the specification's 1s bound.
func (s *Session) drain(conn Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(200*time.Millisecond))
	_ = conn.Close()
}

func (s *Session) sleepBackoff(ctx context.Context) bool {
	attempt := int(s.attempt.Add(1)) - 1
	d := nextBackoff(s.cfg.BackoffBase(), s.cfg.BackoffCap(), attempt, s.rng)
	select {
	case <-time.After(d):
		s.setState(Resolving)
		return true
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		s.setState(Failed)
		return false
	}
}

// connect takes the Session through Resolving/Connecting/Handshaking/
// Subscribing and returns an established, subscribed Conn.
func (s *Session) connect(ctx context.Context) (Conn, harness.ConnectionSample, error) {
	s.setState(Resolving)
	s.setState(Connecting)
	s.setState(Handshaking)

	start := time.Now()
	res, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		return nil, harness.ConnectionSample{
			WallClock:   start,
			TotalNs:     time.Since(start).Nanoseconds(),
			Success:     false,
			ErrorReason: err.Error(),
		}, err
	}

	sample := harness.ConnectionSample{
		WallClock:   start,
		DNSNs:       res.DNSNs,
		TCPNs:       res.TCPNs,
		TLSNs:       res.TLSNs,
		WSUpgradeNs: res.WSUpgradeNs,
		RemoteAddr:  res.RemoteAddr,
		TLSVersion:  res.TLSVersion,
		TLSCipher:   res.TLSCipher,
	}

	s.setState(Subscribing)
	subStart := time.Now()
	if s.subscribe != nil {
		if err := s.subscribe(ctx, res.Conn, s.symbols); err != nil {
			sample.SubscribeNs = time.Since(subStart).Nanoseconds()
			sample.TotalNs = time.Since(start).Nanoseconds()
			sample.Success = false
			sample.ErrorReason = err.Error()
			_ = res.Conn.Close()
			return nil, sample, err
		}
	}
	sample.SubscribeNs = time.Since(subStart).Nanoseconds()
	sample.TotalNs = time.Since(start).Nanoseconds()
	sample.Success = true

	return res.Conn, sample, nil
}

// stream is the Streaming-state read/ping loop. It returns when the
// connection should be torn down: a read error, a missed pong, or an
// external stop/cancel signal.
func (s *Session) stream(ctx context.Context, conn Conn) {
	s.setState(Streaming)
	s.harness.MarkStreaming(true)
	defer s.harness.MarkStreaming(false)

	var lastPongMono atomic.Int64
	lastPongMono.Store(int64(clock.MonoNow()))
	conn.SetPongHandler(func(string) error {
		lastPongMono.Store(int64(clock.MonoNow()))
		return nil
	})

	frameCh := make(chan []byte, 64)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			// Copy: the gorilla/websocket read buffer is reused on the
			// next ReadMessage call, so the frame must be copied before
			// handing it across the channel boundary.
			cp := make([]byte, len(data))
			copy(cp, data)
			frameCh <- cp
		}
	}()

	pingInterval := s.cfg.PingInterval()
	pongTimeout := s.cfg.PongTimeout()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	timeoutCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-pingTicker.C:
			sentAt := clock.MonoNow()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout)); err != nil {
				return
			}
			go func() {
				time.Sleep(pongTimeout)
				if clock.MonoTs(lastPongMono.Load()) < sentAt {
					select {
					case timeoutCh <- struct{}{}:
					default:
					}
				}
			}()
		case <-timeoutCh:
			log.Warn().Msg("session pong timeout, draining")
			return
		case err := <-readErrCh:
			log.Warn().Err(err).Msg("session read error, draining")
			return
		case data := <-frameCh:
			recvMono := clock.MonoNow()
			recvWall := clock.WallNow()
			s.handleFrame(data, recvMono, recvWall)
		}
	}
}

func (s *Session) handleFrame(data []byte, recvMono clock.MonoTs, recvWall clock.WallTs) {
	result, err := decode.Decode(data, recvMono, s.resolver)
	if err != nil {
		reason := "unknown"
		var decodeErr *decode.Error
		if errors.As(err, &decodeErr) {
			reason = string(decodeErr.Reason)
		}
		s.harness.IncrementParseErrors(reason)
		log.Warn().Err(err).Str("reason", reason).Msg("frame decode failed")
		return
	}

	w := s.store.Writer(result.Tick.SymbolID)
	w.Publish(result.Tick)
	handoffMono := clock.MonoNow()

	var health clock.Health
	if s.clockMon != nil {
		health = s.clockMon.Snapshot()
	}

	name := ""
	if s.table != nil {
		name = s.table.Name(result.Tick.SymbolID)
	}

	s.harness.RecordMessage(
		name,
		result.Tick.ExchangeTsNs/1_000_000,
		int64(recvMono),
		int64(result.DecodeEndMono),
		int64(handoffMono),
		0,
		int64(recvWall),
		health,
		len(data),
		result.Tick.UpdateID,
		result.Tick.Bid,
		result.Tick.Ask,
	)
	s.harness.MarkFrame(int64(handoffMono))
}
