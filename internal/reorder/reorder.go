// Package reorder implements the Edge Consumer's bounded reorder
// buffer: a small capacity-limited, seq-sorted holding area that lets
// slightly out-of-order UDP datagrams be re-sequenced before delivery,
// with a timeout that gives up on truly missing sequence numbers rather
// than waiting forever.
package reorder

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/edge"
)

// Outcome classifies how Arrive handled one incoming record.
type Outcome int

const (
	Ok Outcome = iota
	Duplicate
	Gap
)

type slot struct {
	rec        edge.Record
	recvMonoNs clock.MonoTs
}

// Buffer re-sequences Edge Records by seq. It is not safe to share
// across Consumer instances but is safe for concurrent Arrive/Tick calls
// from different goroutines of the same Consumer (e.g. a UDP read
// goroutine and a timer goroutine).
type Buffer struct {
	mu       sync.Mutex
	capacity int
	timeout  time.Duration
	expected uint64
	slots    []slot
	deliver  func(edge.Record)

	duplicates   atomic.Uint64
	missed       atomic.Uint64
	gaps         atomic.Uint64
	reorderEvents atomic.Uint64
	overflow     atomic.Uint64
}

// New constructs a Buffer. startExpected is the first seq the Consumer
// expects to see (normally 1, matching the Edge Receiver's starting
// sequence). deliver is invoked synchronously, in seq order, for every
// record this Buffer releases — callers typically publish straight to
// the Snapshot Store from it.
func New(capacity int, timeout time.Duration, startExpected uint64, deliver func(edge.Record)) *Buffer {
	return &Buffer{
		capacity: capacity,
		timeout:  timeout,
		expected: startExpected,
		deliver:  deliver,
	}
}

// Arrive classifies and handles one received record.
func (b *Buffer) Arrive(rec edge.Record, recvMono clock.MonoTs) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case rec.Seq < b.expected:
		b.duplicates.Add(1)
		return Duplicate
	case rec.Seq == b.expected:
		b.deliverLocked(rec)
		b.drainHeadLocked()
		return Ok
	default:
		b.insertLocked(rec, recvMono)
		return Gap
	}
}

func (b *Buffer) deliverLocked(rec edge.Record) {
	b.deliver(rec)
	b.expected = rec.Seq + 1
}

// drainHeadLocked repeatedly releases the lowest-seq slot while it
// matches expected, per the specification's "repeatedly deliver the
// head" rule.
func (b *Buffer) drainHeadLocked() {
	for len(b.slots) > 0 && b.slots[0].rec.Seq == b.expected {
		s := b.slots[0]
		b.slots = b.slots[1:]
		b.reorderEvents.Add(1)
		b.deliverLocked(s.rec)
	}
}

func (b *Buffer) insertLocked(rec edge.Record, recvMono clock.MonoTs) {
	if len(b.slots) >= b.capacity {
		// Oldest-by-seq slot has waited longest; evict it as an
		// unrecoverable skip rather than reject the new arrival.
		b.slots = b.slots[1:]
		b.missed.Add(1)
		b.overflow.Add(1)
	}
	i := sort.Search(len(b.slots), func(i int) bool { return b.slots[i].rec.Seq >= rec.Seq })
	if i < len(b.slots) && b.slots[i].rec.Seq == rec.Seq {
		b.duplicates.Add(1)
		return // already queued
	}
	b.slots = append(b.slots, slot{})
	copy(b.slots[i+1:], b.slots[i:])
	b.slots[i] = slot{rec: rec, recvMonoNs: recvMono}
}

// Tick evicts any slot older than the configured timeout, delivering
// expired entries in seq order, accepting their gaps, and advancing
// expected past the missing ids. Call this periodically (the
// specification suggests a cadence ≤ 1ms) from the Consumer's timer.
func (b *Buffer) Tick(now clock.MonoTs) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.drainHeadLocked()

	for len(b.slots) > 0 {
		s := b.slots[0]
		if now.Sub(s.recvMonoNs) < b.timeout {
			break
		}
		if s.rec.Seq > b.expected {
			missing := s.rec.Seq - b.expected
			b.missed.Add(missing)
			b.gaps.Add(1)
		}
		b.slots = b.slots[1:]
		b.deliverLocked(s.rec)
		b.drainHeadLocked()
	}
}

// Expected returns the currently expected next sequence number.
func (b *Buffer) Expected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expected
}

// Len returns the number of slots currently held, pending delivery or timeout.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Counters is a snapshot of the Buffer's diagnostic counters.
type Counters struct {
	Duplicates    uint64
	Missed        uint64
	Gaps          uint64
	ReorderEvents uint64
	Overflow      uint64
}

// Snapshot returns the current counter values.
func (b *Buffer) Snapshot() Counters {
	return Counters{
		Duplicates:    b.duplicates.Load(),
		Missed:        b.missed.Load(),
		Gaps:          b.gaps.Load(),
		ReorderEvents: b.reorderEvents.Load(),
		Overflow:      b.overflow.Load(),
	}
}
