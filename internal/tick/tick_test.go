package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid_BidAboveAskIsInvalid(t *testing.T) {
	tk := Tick{Bid: 200 * Scale, Ask: 100 * Scale}
	assert.False(t, tk.Valid())
}

func TestValid_BidBelowOrEqualAskIsValid(t *testing.T) {
	assert.True(t, Tick{Bid: 100 * Scale, Ask: 100 * Scale}.Valid())
	assert.True(t, Tick{Bid: 99 * Scale, Ask: 100 * Scale}.Valid())
}

func TestValid_ZeroSidesAreValid(t *testing.T) {
	assert.True(t, Tick{}.Valid())
}

func TestMaxSymbolId_ReservesHeartbeatOrdinal(t *testing.T) {
	assert.EqualValues(t, 0xFE, MaxSymbolId)
	assert.NotEqualValues(t, 0xFF, MaxSymbolId)
}
