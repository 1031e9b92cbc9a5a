// Package restclient provides the two REST-only concerns the
// specification keeps off the hot WebSocket path: fetching the
// exchange's symbol precision table at startup, and probing server time
// to feed the Clock Health Monitor's external offset. Both calls are
// gated by a sony/gobreaker circuit breaker, grounded on the teacher's
// internal/infrastructure/providers/circuitbreakers.go wrapper — trip
// on consecutive failures, half-open retry after Timeout — and by a
// golang.org/x/time/rate token bucket, grounded on the teacher's
// internal/net/ratelimit/limiter.go per-host limiter, so a burst of
// precision-table or server-time calls cannot trip the exchange's own
// REST rate limit.
package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client wraps an *http.Client with a circuit breaker and a rate limiter
// around the exchange's REST endpoints.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	baseURL string
}

// New constructs a Client pointed at baseURL. The breaker trips after 5
// consecutive failures and probes again after 30s in half-open state,
// matching the teacher's provider defaults. requestsPerSecond and burst
// configure the token bucket guarding every call; requestsPerSecond <= 0
// falls back to a conservative 5 req/s, burst 1.
func New(baseURL string, requestsPerSecond float64, burst int) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 1
	}
	settings := gobreaker.Settings{
		Name:        "restclient",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("restclient circuit breaker state change")
		},
	}
	return &Client{
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		baseURL: baseURL,
	}
}

// SymbolPrecision is one entry of the exchange's published precision
// table. Nothing in this module consumes it: the decoder always uses the
// fixed 1e8 scale.
type SymbolPrecision struct {
	Symbol         string `json:"symbol"`
	PriceDecimals  int    `json:"price_decimals"`
	QtyDecimals    int    `json:"qty_decimals"`
}

// FetchPrecisionTable retrieves the exchange's symbol precision table and
// returns any breaker, transport or JSON failure to the caller. None of
// the cmd/ binaries call it.
func (c *Client) FetchPrecisionTable(ctx context.Context, path string) ([]SymbolPrecision, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getJSON(ctx, path)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch precision table: %w", err)
	}
	var table []SymbolPrecision
	if err := json.Unmarshal(result.([]byte), &table); err != nil {
		return nil, fmt.Errorf("decode precision table: %w", err)
	}
	return table, nil
}

// ServerTime probes the exchange's server-time endpoint and returns the
// server's reported Unix-nanosecond timestamp, feeding the Clock Health
// Monitor's ExternalOffsetFunc.
func (c *Client) ServerTime(ctx context.Context, path string) (int64, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getJSON(ctx, path)
	})
	if err != nil {
		return 0, fmt.Errorf("server time probe: %w", err)
	}
	var body struct {
		ServerTimeNs int64 `json:"server_time_ns"`
	}
	if err := json.Unmarshal(result.([]byte), &body); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return body.ServerTimeNs, nil
}

func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
