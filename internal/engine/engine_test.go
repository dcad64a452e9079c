package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/storage"
)

const testProduct = "BTC-USD"

func newTestEngine(t *testing.T) (*Engine, *storage.DB, *exchange.MockAdapter, storage.Market) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := exchange.NewMockAdapter()
	mock.SetPrice(testProduct, 100.0)
	paper := exchange.NewPaperAdapter(mock)

	market := storage.Market{
		MarketID:  testProduct,
		ProductID: testProduct,
		Enabled:   true,
		Config: grid.Config{
			GridStep:         0.01,
			NumLevels:        5,
			ProfitMode:       grid.ProfitModeStep,
			SizingMode:       grid.SizingBudgetSplit,
			Budget:           500,
			StagingBandPct:   0.05,
			GridTopBufferPct: 0.02,
		},
	}
	require.NoError(t, db.UpsertMarket(market))

	eng := New(db, paper, nil, 2*time.Second)
	return eng, db, mock, market
}

func TestTickPlacesInitialGrid(t *testing.T) {
	eng, db, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Tick(ctx, testProduct))

	orders, err := db.OpenOrders(testProduct)
	require.NoError(t, err)
	require.NotEmpty(t, orders, "the first tick should seed buy orders below the ticker")
	for _, o := range orders {
		require.Equal(t, exchange.SideBuy, o.Side)
		require.Less(t, o.Price, 100.0, "every seeded level must sit below the current price")
	}
}

func TestTickFillsBuyThenPlacesTakeProfitSell(t *testing.T) {
	eng, db, mock, market := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Tick(ctx, testProduct))
	orders, err := db.OpenOrders(testProduct)
	require.NoError(t, err)
	require.NotEmpty(t, orders)

	topBuy := orders[0]
	for _, o := range orders {
		if o.Price > topBuy.Price {
			topBuy = o
		}
	}

	mock.SetPrice(market.ProductID, topBuy.Price)

	require.NoError(t, eng.Tick(ctx, testProduct))

	lots, err := db.OpenLots(testProduct)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.NotEmpty(t, lots[0].SellOrderID, "a filled buy should get a resting take-profit sell")
}

func TestProcessFillsOpensLotOnBuyFill(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	orderID, err := eng.paper.PlaceLimitOrder(ctx, market.ProductID, exchange.SideBuy, 99.0, 1.0, true)
	require.NoError(t, err)
	require.NoError(t, db.InsertOrder(storage.Order{
		OrderID: orderID, MarketID: market.MarketID, Side: exchange.SideBuy,
		Price: 99.0, Size: 1.0, Status: storage.OrderOpen, GridLevel: 0,
	}))

	require.NoError(t, eng.processFillsLocked(ctx, market, 90.0))

	lots, err := db.OpenLots(market.MarketID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, 99.0, lots[0].BuyPrice, "fills execute at the order's limit price")
}

func TestProcessFillsClosesLotOnSellFillAndRecordsProfit(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	lotID, err := db.OpenLot(storage.Lot{
		MarketID: market.MarketID, GridLevel: 0, BuyOrderID: "buy-1",
		BuyPrice: 100.0, Size: 1.0,
	})
	require.NoError(t, err)

	sellID, err := eng.paper.PlaceLimitOrder(ctx, market.ProductID, exchange.SideSell, 105.0, 1.0, true)
	require.NoError(t, err)
	require.NoError(t, db.SetLotSellOrder(lotID, sellID))
	require.NoError(t, db.InsertOrder(storage.Order{
		OrderID: sellID, MarketID: market.MarketID, Side: exchange.SideSell,
		Price: 105.0, Size: 1.0, Status: storage.OrderOpen, GridLevel: 0,
	}))

	require.NoError(t, eng.processFillsLocked(ctx, market, 110.0))

	lots, err := db.OpenLots(market.MarketID)
	require.NoError(t, err)
	require.Empty(t, lots)

	profit, err := eng.CurrentMonthlyProfit()
	require.NoError(t, err)
	require.InDelta(t, 5.0, profit, 1e-9)
}

func TestProcessFillsMissingLotFallsBackToEstimate(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	sellID, err := eng.paper.PlaceLimitOrder(ctx, market.ProductID, exchange.SideSell, 101.0, 1.0, true)
	require.NoError(t, err)
	require.NoError(t, db.InsertOrder(storage.Order{
		OrderID: sellID, MarketID: market.MarketID, Side: exchange.SideSell,
		Price: 101.0, Size: 1.0, Status: storage.OrderOpen, GridLevel: 0,
	}))

	require.NoError(t, eng.processFillsLocked(ctx, market, 102.0))

	profit, err := eng.CurrentMonthlyProfit()
	require.NoError(t, err)
	require.Greater(t, profit, 0.0, "fallback estimate should still record some profit")
}

func TestSyncOrdersPrunesGhostOrders(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.setAnchor(market.MarketID, 100.0))

	// Ghost: a buy order far from any current level.
	ghostID, err := eng.paper.PlaceLimitOrder(ctx, market.ProductID, exchange.SideBuy, 10.0, 1.0, true)
	require.NoError(t, err)
	require.NoError(t, db.InsertOrder(storage.Order{
		OrderID: ghostID, MarketID: market.MarketID, Side: exchange.SideBuy,
		Price: 10.0, Size: 1.0, Status: storage.OrderOpen, GridLevel: -1,
	}))

	m, err := db.GetMarket(market.MarketID)
	require.NoError(t, err)
	require.NoError(t, eng.syncOrdersLocked(ctx, m, 100.0, 100.0))

	orders, err := db.OpenOrders(market.MarketID)
	require.NoError(t, err)
	for _, o := range orders {
		require.NotEqual(t, ghostID, o.OrderID)
	}
}

func TestSyncOrdersPrunesOrdersBelowStagingFloor(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.setAnchor(market.MarketID, 100.0))

	// A buy order resting well under the band floor for the ticker
	// price this tick observes: the market has climbed far enough
	// above it that it no longer belongs on the active grid, even
	// though it was a perfectly valid level when it was placed.
	staleID, err := eng.paper.PlaceLimitOrder(ctx, market.ProductID, exchange.SideBuy, 90.0, 1.0, true)
	require.NoError(t, err)
	require.NoError(t, db.InsertOrder(storage.Order{
		OrderID: staleID, MarketID: market.MarketID, Side: exchange.SideBuy,
		Price: 90.0, Size: 1.0, Status: storage.OrderOpen, GridLevel: -1,
	}))

	pruned, reason := grid.ShouldPrune(90.0, []float64{90.0}, grid.Tolerance(market.Config.GridStep), 1000.0, market.Config.StagingBandPct)
	require.True(t, pruned)
	require.Equal(t, "Out of Band", reason)

	m, err := db.GetMarket(market.MarketID)
	require.NoError(t, err)
	require.NoError(t, eng.syncOrdersLocked(ctx, m, 100.0, 1000.0))

	orders, err := db.OpenOrders(market.MarketID)
	require.NoError(t, err)
	for _, o := range orders {
		require.NotEqual(t, staleID, o.OrderID)
	}
}

func TestSyncOrdersDoesNotDoubleStackCoveredLevel(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.setAnchor(market.MarketID, 100.0))
	levels := grid.CalculateBuyLevels(100.0, 100.0, market.Config)
	require.NotEmpty(t, levels)

	_, err := db.OpenLot(storage.Lot{
		MarketID: market.MarketID, GridLevel: 0, BuyOrderID: "buy-already-filled",
		BuyPrice: levels[0], Size: 1.0,
	})
	require.NoError(t, err)

	m, err := db.GetMarket(market.MarketID)
	require.NoError(t, err)
	require.NoError(t, eng.syncOrdersLocked(ctx, m, 100.0, 100.0))

	orders, err := db.OpenOrders(market.MarketID)
	require.NoError(t, err)
	for _, o := range orders {
		if o.Side != exchange.SideBuy {
			continue // the lot's own take-profit sell carries its level
		}
		require.NotEqual(t, 0, o.GridLevel, "level 0 already covered by an open lot, no new buy should stack there")
	}
}

func TestCheckMonthlyResetZeroesAcrossMonthBoundary(t *testing.T) {
	eng, db, _, _ := newTestEngine(t)
	require.NoError(t, eng.AddProfit(testProduct, 42.0))

	profit, err := eng.CurrentMonthlyProfit()
	require.NoError(t, err)
	require.Equal(t, 42.0, profit)

	pt, err := eng.getProfitTracker()
	require.NoError(t, err)
	pt.LastProfitResetMonth = int(time.Now().AddDate(0, -1, 0).Month())
	require.NoError(t, db.SetBotState(profitTrackerKey, pt))

	require.NoError(t, eng.CheckMonthlyReset())
	profit, err = eng.CurrentMonthlyProfit()
	require.NoError(t, err)
	require.Equal(t, 0.0, profit)
}

func TestStopAndCancelAllDisablesMarketsAndCancelsOrders(t *testing.T) {
	eng, db, _, market := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Tick(ctx, market.MarketID))
	orders, err := db.OpenOrders(market.MarketID)
	require.NoError(t, err)
	require.NotEmpty(t, orders)

	require.NoError(t, eng.StopAndCancelAll(ctx))

	m, err := db.GetMarket(market.MarketID)
	require.NoError(t, err)
	require.False(t, m.Enabled)

	remaining, err := db.OpenOrders(market.MarketID)
	require.NoError(t, err)
	require.Empty(t, remaining)
}
