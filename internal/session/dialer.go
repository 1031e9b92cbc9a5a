package session

import (
	"context"
	"crypto/tls"
	"net"
	"net/http/httptrace"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the Session Manager depends on,
// abstracted so tests can drive the state machine with a fake transport
// instead of a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
	RemoteAddr() net.Addr
	TLSConnectionState() (tls.ConnectionState, bool)
}

// gorillaConn adapts *websocket.Conn to Conn, extracting the TLS
// connection state (if any) from the underlying net.Conn.
type gorillaConn struct {
	*websocket.Conn
}

func (g gorillaConn) TLSConnectionState() (tls.ConnectionState, bool) {
	tc, ok := g.Conn.UnderlyingConn().(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// DialResult carries phase timings alongside the established connection,
// matching the Latency Harness's ConnectionSample schema.
type DialResult struct {
	Conn        Conn
	DNSNs       int64
	TCPNs       int64
	TLSNs       int64
	WSUpgradeNs int64
	RemoteAddr  string
	TLSVersion  string
	TLSCipher   string
}

// Dialer establishes the exchange WebSocket connection. Implementations
// must respect ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string) (DialResult, error)
}

// defaultDialer wraps gorilla/websocket.Dialer with an httptrace hook so
// DNS/connect phase durations can be attributed for the Harness's
// connection-phase sample, the way the teacher's provider layer times
// REST calls around circuit-breaker execution.
type defaultDialer struct {
	ws *websocket.Dialer
}

// NewDefaultDialer returns the production Dialer used by cmd/tickcore.
func NewDefaultDialer(handshakeTimeout time.Duration) Dialer {
	return &defaultDialer{ws: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (d *defaultDialer) Dial(ctx context.Context, url string) (DialResult, error) {
	var dnsStart, dnsDone, connectStart, connectDone, tlsStart, tlsDone time.Time

	trace := &httptrace.ClientTrace{
		DNSStart:            func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:             func(httptrace.DNSDoneInfo) { dnsDone = time.Now() },
		ConnectStart:        func(string, string) { connectStart = time.Now() },
		ConnectDone:         func(string, string, error) { connectDone = time.Now() },
		TLSHandshakeStart:   func() { tlsStart = time.Now() },
		TLSHandshakeDone:    func(tls.ConnectionState, error) { tlsDone = time.Now() },
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	wsStart := time.Now()
	conn, _, err := d.ws.DialContext(ctx, url, nil)
	if err != nil {
		return DialResult{}, err
	}
	wsDone := time.Now()

	// The upgrade phase starts once the transport is ready: after the TLS
	// handshake for wss, after the TCP connect for plain ws.
	upgradeStart := wsStart
	if !tlsDone.IsZero() {
		upgradeStart = tlsDone
	} else if !connectDone.IsZero() {
		upgradeStart = connectDone
	}

	res := DialResult{
		Conn:        gorillaConn{conn},
		RemoteAddr:  conn.RemoteAddr().String(),
		WSUpgradeNs: wsDone.Sub(upgradeStart).Nanoseconds(),
	}
	if !dnsStart.IsZero() && !dnsDone.IsZero() {
		res.DNSNs = dnsDone.Sub(dnsStart).Nanoseconds()
	}
	if !connectStart.IsZero() && !connectDone.IsZero() {
		res.TCPNs = connectDone.Sub(connectStart).Nanoseconds()
	}
	if !tlsStart.IsZero() && !tlsDone.IsZero() {
		res.TLSNs = tlsDone.Sub(tlsStart).Nanoseconds()
		if tc, ok := res.Conn.TLSConnectionState(); ok {
			res.TLSVersion = tlsVersionName(tc.Version)
			res.TLSCipher = tls.CipherSuiteName(tc.CipherSuite)
		}
	}
	return res, nil
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}
