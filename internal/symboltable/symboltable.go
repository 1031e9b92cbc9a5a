// Package symboltable builds the startup SymbolId registry: interning
// each configured symbol string once, one-to-one, immutable afterward.
//
// Grounded on the teacher's cache-tier-with-fallback shape
// (data/cache/cache.go's NewAuto): an optional Redis-backed publication
// path lets multiple ingestion processes on the same host agree on
// ordinal assignment without a coordinator, falling back to purely local
// assignment when Redis is unreachable or unconfigured.
package symboltable

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tickcore/internal/tick"
)

// Table is the immutable, process-local symbol registry built once at
// startup and shared (by reference) with the Wire Decoder's
// SymbolResolver and the Snapshot Store's sizing.
type Table struct {
	byID   []string
	byName map[string]tick.SymbolId
}

// Build interns symbols in the given order, assigning SymbolId 0..n-1.
// It returns an error if more than tick.MaxSymbolId symbols are given —
// 0xFF is reserved by the edge wire format for heartbeat records.
func Build(symbols []string) (*Table, error) {
	if len(symbols) > int(tick.MaxSymbolId) {
		return nil, fmt.Errorf("too many symbols: %d exceeds max %d", len(symbols), tick.MaxSymbolId)
	}
	t := &Table{
		byID:   make([]string, len(symbols)),
		byName: make(map[string]tick.SymbolId, len(symbols)),
	}
	for i, s := range symbols {
		if _, dup := t.byName[s]; dup {
			return nil, fmt.Errorf("duplicate symbol in table: %s", s)
		}
		id := tick.SymbolId(i)
		t.byID[i] = s
		t.byName[s] = id
	}
	return t, nil
}

// Resolve implements decode.SymbolResolver: it looks the raw frame bytes
// up in the name map without allocating a string for the common case (Go's map lookup by []byte-derived string conversion is
// the one allocation-adjacent step remaining; the compiler elides it for
// map reads, so no heap string is actually produced here).
func (t *Table) Resolve(raw []byte) (tick.SymbolId, bool) {
	id, ok := t.byName[string(raw)]
	return id, ok
}

// Name returns the interned symbol string for id.
func (t *Table) Name(id tick.SymbolId) string {
	if int(id) >= len(t.byID) {
		return ""
	}
	return t.byID[id]
}

// Len returns the number of registered symbols.
func (t *Table) Len() int { return len(t.byID) }

// Publisher optionally shares the resolved table through Redis so other
// processes on the host can agree on ordinal assignment instead of each
// building their own (which would be fine in isolation, but would make
// SymbolId values incomparable across processes sharing a Snapshot
// Store via shared memory in a future deployment). Best-effort: failures
// are logged and otherwise ignored, exactly like the teacher's
// redisCache.Set, which swallows errors because the in-memory/static
// table is always authoritative as a fallback.
type Publisher struct {
	client *redis.Client
	key    string
}

// NewPublisher returns a Publisher backed by addr, or nil if addr is
// empty — callers should treat a nil *Publisher as "skip publication".
func NewPublisher(addr, key string) *Publisher {
	if addr == "" {
		return nil
	}
	return &Publisher{client: redis.NewClient(&redis.Options{Addr: addr}), key: key}
}

// Publish writes the table's ordered symbol list so other processes can
// read it back with Fetch.
func (p *Publisher) Publish(ctx context.Context, t *Table) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		log.Warn().Err(err).Msg("symbol table publish: failed to clear prior entry")
		return
	}
	for i, name := range t.byID {
		if err := p.client.RPush(ctx, p.key, name).Err(); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("symbol table publish: RPush failed")
			return
		}
	}
}

// Fetch reads a previously published table, or returns ok=false if
// Redis is unreachable, unconfigured, or the key is absent.
func (p *Publisher) Fetch(ctx context.Context) (symbols []string, ok bool) {
	if p == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	vals, err := p.client.LRange(ctx, p.key, 0, -1).Result()
	if err != nil || len(vals) == 0 {
		return nil, false
	}
	return vals, true
}
