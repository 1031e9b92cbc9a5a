// Package tick defines the fixed-point per-symbol book-top record that
// flows from the wire decoder through the snapshot store to strategy
// consumers.
package tick

import "github.com/sawpanic/tickcore/internal/clock"

// Scale is the fixed-point scale applied to every price/quantity field:
// values are integers representing the real value times 1e8.
const Scale = 100_000_000

// SymbolId is a small process-local ordinal identifying a trading symbol.
// Assignment happens once at startup (see internal/symboltable) and is
// immutable afterward.
type SymbolId uint8

// MaxSymbolId is the largest assignable ordinal; 0xFF is reserved by the
// edge wire format for heartbeat/all-symbols records.
const MaxSymbolId = SymbolId(0xFE)

// Tick is the decoded per-symbol best-bid/best-ask state.
type Tick struct {
	SymbolID SymbolId
	Bid      int64 // fixed-point, ×1e8
	Ask      int64 // fixed-point, ×1e8
	BidQty   int64 // fixed-point, ×1e8
	AskQty   int64 // fixed-point, ×1e8

	ExchangeTsNs int64 // exchange-reported timestamp, nanoseconds since Unix epoch
	RecvMonoNs   clock.MonoTs
	UpdateID     uint64
}

// Valid reports the structural invariants a decoded Tick must satisfy:
// bid <= ask whenever both sides are populated.
func (t Tick) Valid() bool {
	if t.Bid > 0 && t.Ask > 0 && t.Bid > t.Ask {
		return false
	}
	return true
}
