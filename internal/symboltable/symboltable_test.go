package symboltable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_AssignsOrdinalsInOrder(t *testing.T) {
	tbl, err := Build([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	require.NoError(t, err)

	id, ok := tbl.Resolve([]byte("ETHUSDT"))
	require.True(t, ok)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, "ETHUSDT", tbl.Name(id))
}

func TestBuild_RejectsDuplicates(t *testing.T) {
	_, err := Build([]string{"BTCUSDT", "BTCUSDT"})
	assert.Error(t, err)
}

func TestBuild_UnknownSymbolNotResolved(t *testing.T) {
	tbl, err := Build([]string{"BTCUSDT"})
	require.NoError(t, err)

	_, ok := tbl.Resolve([]byte("DOGEUSDT"))
	assert.False(t, ok)
}

func TestNilPublisher_IsNoOp(t *testing.T) {
	var p *Publisher
	tbl, err := Build([]string{"BTCUSDT"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		p.Publish(ctx, tbl)
	})
	_, ok := p.Fetch(ctx)
	assert.False(t, ok)
}
