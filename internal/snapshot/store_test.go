package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickcore/internal/tick"
)

func TestStore_PublishThenRead(t *testing.T) {
	s := New(4)
	w := s.Writer(1)
	r := s.Reader(1)

	w.Publish(tick.Tick{SymbolID: 1, Bid: 5000000000009, UpdateID: 109})

	got, ok := r.Read(RetryOnly)
	require.True(t, ok)
	assert.EqualValues(t, 109, got.UpdateID)
	assert.EqualValues(t, 5000000000009, got.Bid)
}

func TestStore_VersionMonotonic(t *testing.T) {
	s := New(1)
	w := s.Writer(0)
	r := s.Reader(0)

	var last uint64
	for i := 0; i < 5; i++ {
		w.Publish(tick.Tick{UpdateID: uint64(i)})
		v := r.Version()
		assert.GreaterOrEqual(t, v, last)
		last = v
	}
}

func TestStore_SteadyStateTenFrames(t *testing.T) {
	s := New(4)
	w := s.Writer(1)
	r := s.Reader(1)

	for i := 0; i < 10; i++ {
		w.Publish(tick.Tick{
			SymbolID: 1,
			Bid:      5000000000000 + int64(i),
			UpdateID: uint64(100 + i),
		})
	}

	got, ok := r.Read(RetryOnly)
	require.True(t, ok)
	assert.EqualValues(t, 109, got.UpdateID)
	assert.EqualValues(t, 5000000000009, got.Bid)
}

func TestStore_ConcurrentReadersNoTornReads(t *testing.T) {
	s := New(1)
	w := s.Writer(0)
	r := s.Reader(0)

	stop := make(chan struct{})
	var writerWg, readerWg sync.WaitGroup

	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		var i int64
		for {
			select {
			case <-stop:
				return
			default:
				w.Publish(tick.Tick{Bid: i, Ask: i + 1, UpdateID: uint64(i)})
				i++
			}
		}
	}()

	for g := 0; g < 8; g++ {
		readerWg.Add(1)
		go func() {
			defer readerWg.Done()
			for i := 0; i < 2000; i++ {
				got, ok := r.Read(AcceptAfterTwoRetries)
				if ok {
					assert.Equal(t, got.Bid+1, got.Ask, "torn read: bid/ask from different publications")
				}
			}
		}()
	}

	readerWg.Wait()
	close(stop)
	writerWg.Wait()
}
