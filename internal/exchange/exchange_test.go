package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterRejectsInsufficientFunds(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	_, err := m.PlaceLimitOrder(ctx, "BTC-USD", SideBuy, 50000, 1.0, true)
	require.Error(t, err)
}

func TestMockAdapterPlacesAndCancels(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	id, err := m.PlaceLimitOrder(ctx, "BTC-USD", SideBuy, 40000, 0.01, true)
	require.NoError(t, err)

	open, err := m.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, m.CancelOrder(ctx, id))

	open, _ = m.ListOpenOrders(ctx, "BTC-USD")
	assert.Empty(t, open)

	err = m.CancelOrder(ctx, "does-not-exist")
	assert.Error(t, err)
}

func TestPaperAdapterFillsOnTouch(t *testing.T) {
	inner := NewMockAdapter()
	p := NewPaperAdapter(inner)
	ctx := context.Background()

	buyID, err := p.PlaceLimitOrder(ctx, "BTC-USD", SideBuy, 100, 1, true)
	require.NoError(t, err)
	sellID, err := p.PlaceLimitOrder(ctx, "BTC-USD", SideSell, 110, 1, true)
	require.NoError(t, err)

	// Price above buy, below sell: nothing fills.
	fills := p.CheckFills("BTC-USD", 105)
	assert.Empty(t, fills)

	// Price touches the buy level exactly: fills.
	fills = p.CheckFills("BTC-USD", 100)
	require.Len(t, fills, 1)
	assert.Equal(t, buyID, fills[0].OrderID)
	assert.Equal(t, SideBuy, fills[0].Side)
	assert.Equal(t, 0.0, fills[0].FeeUSD)

	// Buy order is now gone from the open set.
	open, _ := p.ListOpenOrders(ctx, "BTC-USD")
	assert.Len(t, open, 1)
	assert.Equal(t, sellID, open[0].ID)

	// Price goes above the sell level: fills.
	fills = p.CheckFills("BTC-USD", 111)
	require.Len(t, fills, 1)
	assert.Equal(t, sellID, fills[0].OrderID)
	assert.Equal(t, SideSell, fills[0].Side)
}

func TestPaperAdapterCancelUnknownOrderErrors(t *testing.T) {
	p := NewPaperAdapter(NewMockAdapter())
	err := p.CancelOrder(context.Background(), "nope")
	assert.Error(t, err)
}
