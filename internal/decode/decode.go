// Package decode implements the zero-allocation wire decoder for the
// exchange's bookTicker JSON frames. encoding/json always allocates (at
// minimum one interface{} or struct per call, plus garbage for every
// string field) so it cannot meet the "zero heap allocation on the hot
// path" constraint; this package instead hand-scans the fixed, known
// frame shape directly over the input []byte, in the spirit of the
// corpus's typed-struct-plus-manual-numeric-parse style (see
// internal/providers/kraken/types.go's GetAskPrice/GetBidPrice) but
// operating on byte spans instead of allocated strings.
package decode

import (
	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/tick"
)

// SymbolResolver maps the raw (still-quoted-content) symbol bytes from a
// frame to an interned SymbolId without allocating. Implementations keep
// a startup-built table of interned symbol strings (see
// internal/symboltable) and compare against raw bytes directly.
type SymbolResolver interface {
	Resolve(rawSymbol []byte) (tick.SymbolId, bool)
}

// Result is the decoder's successful output: the decoded Tick plus the
// monotonic timestamp captured immediately before Decode returns, so the
// caller (the Latency Harness) can derive decode latency as
// DecodeEndMono - recvMono.
type Result struct {
	Tick         tick.Tick
	DecodeEndMono clock.MonoTs
}

// Decode parses one bookTicker frame. recvMono must be captured by the
// caller at the earliest possible point — immediately after the
// transport read returns, before any other work — matching the
// ordering invariant: decode itself never re-samples the receive time,
// it only stamps decode-end right before returning.
//
// Decode never panics. Every failure path returns a tagged *Error.
func Decode(frame []byte, recvMono clock.MonoTs, resolver SymbolResolver) (Result, error) {
	var (
		haveUpdateID bool
		haveSymbol   bool
		haveBid      bool
		haveBidQty   bool
		haveAsk      bool
		haveAskQty   bool
		haveExchTs   bool

		t tick.Tick
	)
	t.RecvMonoNs = recvMono

	p := scanner{buf: frame}
	if err := p.expectByte('{'); err != nil {
		return Result{}, newError(ReasonMalformedJSON, err.Error())
	}

	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.i++
			break
		}
		key, err := p.readQuoted()
		if err != nil {
			return Result{}, newError(ReasonMalformedJSON, err.Error())
		}
		p.skipSpace()
		if err := p.expectByte(':'); err != nil {
			return Result{}, newError(ReasonMalformedJSON, err.Error())
		}
		p.skipSpace()

		val, quoted, err := p.readValue()
		if err != nil {
			return Result{}, newError(ReasonMalformedJSON, err.Error())
		}

		switch {
		case len(key) == 1 && key[0] == 'u':
			id, err := parseUint(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.UpdateID = id
			haveUpdateID = true
		case len(key) == 1 && key[0] == 's':
			if !quoted {
				return Result{}, newError(ReasonMalformedJSON, "symbol field must be a string")
			}
			id, ok := resolver.Resolve(val)
			if !ok {
				return Result{}, newError(ReasonUnknownSymbol, string(val))
			}
			t.SymbolID = id
			haveSymbol = true
		case len(key) == 1 && key[0] == 'b':
			v, err := parseFixedPoint(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.Bid = v
			haveBid = true
		case len(key) == 1 && key[0] == 'B':
			v, err := parseFixedPoint(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.BidQty = v
			haveBidQty = true
		case len(key) == 1 && key[0] == 'a':
			v, err := parseFixedPoint(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.Ask = v
			haveAsk = true
		case len(key) == 1 && key[0] == 'A':
			v, err := parseFixedPoint(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.AskQty = v
			haveAskQty = true
		case len(key) == 1 && key[0] == 'E':
			v, err := parseInt(val)
			if err != nil {
				return Result{}, newError(ReasonNumericOverflow, err.Error())
			}
			t.ExchangeTsNs = v * 1_000_000 // exchange sends milliseconds
			haveExchTs = true
		}

		p.skipSpace()
		c := p.peek()
		if c == ',' {
			p.i++
			continue
		}
		if c == '}' {
			p.i++
			break
		}
		return Result{}, newError(ReasonMalformedJSON, "expected ',' or '}'")
	}

	switch {
	case !haveUpdateID:
		return Result{}, newError(ReasonMissingField, "u")
	case !haveSymbol:
		return Result{}, newError(ReasonMissingField, "s")
	case !haveBid:
		return Result{}, newError(ReasonMissingField, "b")
	case !haveBidQty:
		return Result{}, newError(ReasonMissingField, "B")
	case !haveAsk:
		return Result{}, newError(ReasonMissingField, "a")
	case !haveAskQty:
		return Result{}, newError(ReasonMissingField, "A")
	case !haveExchTs:
		return Result{}, newError(ReasonMissingField, "E")
	}
	if t.UpdateID == 0 {
		return Result{}, newError(ReasonOutOfRangeID, "update_id must be >= 1")
	}
	if !t.Valid() {
		return Result{}, newError(ReasonOutOfRangeID, "bid > ask")
	}

	return Result{Tick: t, DecodeEndMono: clock.MonoNow()}, nil
}

// scanner is a minimal, allocation-free cursor over a JSON object whose
// keys are known single-letter bookTicker fields. It does not attempt to
// be a general JSON parser: no nesting, no unicode escapes, no arrays —
// the exchange frame never needs them.
type scanner struct {
	buf []byte
	i   int
}

func (s *scanner) peek() byte {
	if s.i >= len(s.buf) {
		return 0
	}
	return s.buf[s.i]
}

func (s *scanner) skipSpace() {
	for s.i < len(s.buf) {
		switch s.buf[s.i] {
		case ' ', '\t', '\n', '\r':
			s.i++
		default:
			return
		}
	}
}

func (s *scanner) expectByte(b byte) error {
	if s.i >= len(s.buf) || s.buf[s.i] != b {
		return errUnexpected(s, b)
	}
	s.i++
	return nil
}

func (s *scanner) readQuoted() ([]byte, error) {
	if s.peek() != '"' {
		return nil, errExpectedQuote(s)
	}
	s.i++
	start := s.i
	for s.i < len(s.buf) && s.buf[s.i] != '"' {
		s.i++
	}
	if s.i >= len(s.buf) {
		return nil, errUnterminated(s)
	}
	val := s.buf[start:s.i]
	s.i++ // consume closing quote
	return val, nil
}

// readValue returns a quoted string's content or a bare token's bytes,
// plus whether it was quoted.
func (s *scanner) readValue() ([]byte, bool, error) {
	if s.peek() == '"' {
		v, err := s.readQuoted()
		return v, true, err
	}
	start := s.i
	for s.i < len(s.buf) {
		switch s.buf[s.i] {
		case ',', '}', ' ', '\t', '\n', '\r':
			if s.i == start {
				return nil, false, errUnexpected(s, s.buf[s.i])
			}
			return s.buf[start:s.i], false, nil
		}
		s.i++
	}
	if s.i == start {
		return nil, false, errUnterminated(s)
	}
	return s.buf[start:s.i], false, nil
}
