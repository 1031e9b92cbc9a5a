package reorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/edge"
)

func recWithSeq(seq uint64) edge.Record {
	return edge.Record{Version: edge.Version, Seq: seq}
}

func TestBuffer_ReorderWithinWindow(t *testing.T) {
	var delivered []uint64
	b := New(16, 5*time.Millisecond, 1, func(r edge.Record) {
		delivered = append(delivered, r.Seq)
	})

	assert.Equal(t, Ok, b.Arrive(recWithSeq(1), 0))
	assert.Equal(t, Ok, b.Arrive(recWithSeq(2), 0))
	assert.Equal(t, Gap, b.Arrive(recWithSeq(4), 0))
	assert.Equal(t, Ok, b.Arrive(recWithSeq(3), 0))
	assert.Equal(t, Ok, b.Arrive(recWithSeq(5), 0))

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, delivered)

	snap := b.Snapshot()
	assert.EqualValues(t, 0, snap.Gaps)
	assert.EqualValues(t, 1, snap.ReorderEvents)
	assert.EqualValues(t, 6, b.Expected())
}

func TestBuffer_LossBeyondWindowEvictsOnTimeout(t *testing.T) {
	var delivered []uint64
	b := New(16, 5*time.Millisecond, 1, func(r edge.Record) {
		delivered = append(delivered, r.Seq)
	})

	assert.Equal(t, Ok, b.Arrive(recWithSeq(1), 0))
	assert.Equal(t, Ok, b.Arrive(recWithSeq(2), 0))
	assert.Equal(t, Gap, b.Arrive(recWithSeq(9), 0))

	// Not yet expired: 4ms < 5ms timeout.
	b.Tick(clock.MonoTs(4 * time.Millisecond))
	assert.EqualValues(t, 3, b.Expected())

	// Expired: 6ms >= 5ms timeout.
	b.Tick(clock.MonoTs(6 * time.Millisecond))

	require.Equal(t, []uint64{1, 2, 9}, delivered)
	snap := b.Snapshot()
	assert.EqualValues(t, 6, snap.Missed)
	assert.EqualValues(t, 1, snap.Gaps)
	assert.EqualValues(t, 10, b.Expected())
}

func TestBuffer_DuplicateSeqCounted(t *testing.T) {
	b := New(16, 5*time.Millisecond, 1, func(edge.Record) {})
	assert.Equal(t, Ok, b.Arrive(recWithSeq(1), 0))
	assert.Equal(t, Duplicate, b.Arrive(recWithSeq(1), 0))
	assert.EqualValues(t, 1, b.Snapshot().Duplicates)
}

func TestBuffer_DuplicateWhileQueuedCounted(t *testing.T) {
	b := New(16, 5*time.Millisecond, 1, func(edge.Record) {})
	assert.Equal(t, Gap, b.Arrive(recWithSeq(3), 0))
	assert.Equal(t, Gap, b.Arrive(recWithSeq(3), 0)) // re-arrival of the same queued seq
	assert.EqualValues(t, 1, b.Snapshot().Duplicates)
	assert.Equal(t, 1, b.Len())
}

func TestBuffer_CapacityOverflowEvictsOldest(t *testing.T) {
	b := New(2, time.Hour, 1, func(edge.Record) {})
	assert.Equal(t, Gap, b.Arrive(recWithSeq(5), 0))
	assert.Equal(t, Gap, b.Arrive(recWithSeq(6), 0))
	assert.Equal(t, Gap, b.Arrive(recWithSeq(7), 0)) // forces eviction of seq 5

	snap := b.Snapshot()
	assert.EqualValues(t, 1, snap.Overflow)
	assert.Equal(t, 2, b.Len())
}
