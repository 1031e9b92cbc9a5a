package edge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tickcore/internal/tick"
)

func TestReceiver_EmitAssignsMonotonicSeq(t *testing.T) {
	// No listener on this port; sends fail, which is fine for exercising
	// sequence assignment without a real consumer.
	r, err := NewReceiver("127.0.0.1:59999", 100*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	r.Emit(tick.Tick{SymbolID: 1, UpdateID: 1})
	r.Emit(tick.Tick{SymbolID: 1, UpdateID: 2})
	r.Emit(tick.Tick{SymbolID: 1, UpdateID: 3})

	assert.EqualValues(t, 3, r.seq.Load())
}

func TestReceiver_TracksLastUpdateIDAcrossNonSequentialJump(t *testing.T) {
	r, err := NewReceiver("127.0.0.1:59999", 100*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	r.Emit(tick.Tick{SymbolID: 1, UpdateID: 100})
	assert.False(t, r.haveLastID[1] && r.lastUpdateID[1] != 100)

	// Jump from 100 straight to 105: the *next* emitted record should
	// carry the gap flag. We can't observe the wire bytes directly here
	// (send targets a closed port), so assert via the bookkeeping state
	// the flag computation reads.
	r.Emit(tick.Tick{SymbolID: 1, UpdateID: 105})
	assert.EqualValues(t, 105, r.lastUpdateID[1])
}

func TestEndToEnd_ReceiverToConsumerUDP(t *testing.T) {
	var mu sync.Mutex
	var delivered []Record

	consumer, err := NewConsumer("127.0.0.1:0", []uint8{1}, 16, 5*time.Millisecond, 500*time.Millisecond, 1*time.Second,
		func(r Record) {
			mu.Lock()
			delivered = append(delivered, r)
			mu.Unlock()
		}, nil)
	require.NoError(t, err)
	defer consumer.Close()

	consumerAddr := consumer.conn.LocalAddr().String()

	receiver, err := NewReceiver(consumerAddr, 100*time.Millisecond)
	require.NoError(t, err)
	defer receiver.Close()

	stop := make(chan struct{})
	go consumer.Run(stop)
	defer close(stop)

	receiver.Emit(tick.Tick{SymbolID: 1, UpdateID: 1, Bid: 1, Ask: 2})
	receiver.Emit(tick.Tick{SymbolID: 1, UpdateID: 2, Bid: 3, Ask: 4})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, delivered[0].Seq)
	assert.EqualValues(t, 2, delivered[1].Seq)
}

func TestConsumer_RejectsMalformedDatagram(t *testing.T) {
	consumer, err := NewConsumer("127.0.0.1:0", []uint8{1}, 16, 5*time.Millisecond, 500*time.Millisecond, time.Second, func(Record) {}, nil)
	require.NoError(t, err)
	defer consumer.Close()

	consumer.handleDatagram(make([]byte, 10), 0)
	assert.EqualValues(t, 1, consumer.Malformed())
}
