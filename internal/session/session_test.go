package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/config"
	"github.com/sawpanic/tickcore/internal/harness"
	"github.com/sawpanic/tickcore/internal/snapshot"
	"github.com/sawpanic/tickcore/internal/symboltable"
)

// fakeConn is a minimal Conn double: it yields queued frames and never
// errors unless told to.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	pongFunc func(string) error
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		if len(f.frames) > 0 {
			d := f.frames[0]
			f.frames = f.frames[1:]
			f.mu.Unlock()
			return 1, d, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return 0, nil, errors.New("closed")
		}
		time.Sleep(time.Millisecond)
	}
}
func (f *fakeConn) WriteMessage(int, []byte) error { return nil }
func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error) { f.pongFunc = h }
func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) RemoteAddr() net.Addr                             { return &net.TCPAddr{} }
func (f *fakeConn) TLSConnectionState() (tls.ConnectionState, bool)  { return tls.ConnectionState{}, false }

// fakeDialer fails the first N dial attempts with a TLS-flavored error,
// then succeeds, handing back conn.
type fakeDialer struct {
	failures int32
	conn     Conn
	attempts atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (DialResult, error) {
	n := d.attempts.Add(1)
	if n <= d.failures {
		return DialResult{}, fmt.Errorf("tls handshake failed (attempt %d)", n)
	}
	return DialResult{Conn: d.conn, RemoteAddr: "203.0.113.1:443"}, nil
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		PingIntervalMS: 50,
		PongTimeoutMS:  20,
		BackoffBaseMS:  10, // scaled down for fast tests; ratio identical to production defaults
		BackoffCapMS:   80,
	}
}

func newTestSession(t *testing.T, dialer Dialer, conn Conn) (*Session, *harness.Harness) {
	t.Helper()
	tbl, err := symboltable.Build([]string{"BTCUSDT"})
	require.NoError(t, err)
	store := snapshot.New(tbl.Len())
	h := harness.New(1, 1000)

	sess := New(testConfig(), "wss://example.invalid/ws", []string{"BTCUSDT"}, dialer, nil, tbl, tbl, store, h, nil)
	_ = conn
	return sess, h
}

func TestSession_ReconnectBackoffThenSucceeds(t *testing.T) {
	conn := &fakeConn{}
	dialer := &fakeDialer{failures: 3, conn: conn}
	sess, h := newTestSession(t, dialer, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sess.State() == Streaming
	}, 2*time.Second, 5*time.Millisecond)

	sess.Stop()
	<-done

	samples := h.ConnectionSamples()
	require.GreaterOrEqual(t, len(samples), 4)
	failCount := 0
	for _, s := range samples[:len(samples)-1] {
		if !s.Success {
			failCount++
		}
	}
	assert.GreaterOrEqual(t, failCount, 3)
	assert.True(t, samples[len(samples)-1].Success)
}

func TestSession_StreamsDecodedFrame(t *testing.T) {
	frame := []byte(`{"u":101,"s":"BTCUSDT","b":"50000.00000000","B":"1.00000000","a":"50000.00000001","A":"1.00000000","E":1700000000000}`)
	conn := &fakeConn{frames: [][]byte{frame}}
	dialer := &fakeDialer{failures: 0, conn: conn}
	sess, h := newTestSession(t, dialer, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(h.MessageSamples()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	sess.Stop()
	<-done

	samples := h.MessageSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, "BTCUSDT", samples[0].Symbol)
	assert.EqualValues(t, 101, samples[0].Sequence)
}

func TestSession_StateStringsCoverAllStates(t *testing.T) {
	for s := Idle; s <= Failed; s++ {
		assert.NotEqual(t, "unknown", s.String())
	}
}

func TestNextBackoff_WithinJitterBoundsOfExpected(t *testing.T) {
	base := 1 * time.Second
	cap := 60 * time.Second
	rng := rand.New(rand.NewSource(1))

	expected := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, exp := range expected {
		d := nextBackoff(base, cap, attempt, rng)
		lo := time.Duration(float64(exp) * 0.9)
		hi := time.Duration(float64(exp) * 1.1)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestHealthUnused(t *testing.T) {
	// sanity: clock.Health zero value is never one-way-valid, matching the
	// nil-clock-monitor path in handleFrame.
	var h clock.Health
	assert.False(t, h.OneWayValid())
}
