package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.migrate())
	require.NoError(t, db.migrate())
}

func TestMarketUpsertAndList(t *testing.T) {
	db := openTestDB(t)
	m := Market{
		MarketID: "m1", ProductID: "BTC-USD", Enabled: true,
		Config: grid.Config{GridStep: 0.01, NumLevels: 5, ProfitMode: grid.ProfitModeStep, SizingMode: grid.SizingBudgetSplit, Budget: 1000},
	}
	require.NoError(t, db.UpsertMarket(m))

	got, err := db.GetMarket("m1")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", got.ProductID)
	assert.True(t, got.Enabled)
	assert.Equal(t, 5, got.Config.NumLevels)

	enabled, err := db.ListEnabledMarkets()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, db.DisableAllMarkets())
	enabled, err = db.ListEnabledMarkets()
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

func TestOrderUniqueConstraint(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertMarket(Market{MarketID: "m1", ProductID: "BTC-USD"}))

	o := Order{OrderID: "o1", MarketID: "m1", Side: exchange.SideBuy, Price: 100, Size: 1, Status: OrderOpen, GridLevel: 0}
	require.NoError(t, db.InsertOrder(o))
	err := db.InsertOrder(o)
	assert.Error(t, err, "duplicate order_id must be rejected")
}

func TestLotLifecycle(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertMarket(Market{MarketID: "m1", ProductID: "BTC-USD"}))
	require.NoError(t, db.InsertOrder(Order{OrderID: "buy1", MarketID: "m1", Side: exchange.SideBuy, Price: 100, Size: 1, Status: OrderFilled, GridLevel: 0}))

	lotID, err := db.OpenLot(Lot{MarketID: "m1", GridLevel: 0, BuyOrderID: "buy1", BuyPrice: 100, Size: 1})
	require.NoError(t, err)

	open, err := db.OpenLots("m1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, LotOpen, open[0].Status)

	require.NoError(t, db.InsertOrder(Order{OrderID: "sell1", MarketID: "m1", Side: exchange.SideSell, Price: 102, Size: 1, Status: OrderFilled, GridLevel: 0}))
	require.NoError(t, db.CloseLot(lotID, "sell1", 102, 2.0))

	open, err = db.OpenLots("m1")
	require.NoError(t, err)
	assert.Empty(t, open, "closed lot must not appear as open")

	// Closing an already-closed lot is a no-op error, not a silent success.
	err = db.CloseLot(lotID, "sell1", 102, 2.0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBotStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	type anchor struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, db.SetBotState("m1_anchor", anchor{Price: 123.45}))

	var got anchor
	require.NoError(t, db.GetBotState("m1_anchor", &got))
	assert.Equal(t, 123.45, got.Price)

	_, err := db.GetMarket("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonthlyProfitResetBoundary(t *testing.T) {
	db := openTestDB(t)
	type tracker struct {
		CurrentMonthProfitUSD float64 `json:"current_month_profit_usd"`
		LastProfitResetMonth  int     `json:"last_profit_reset_month"`
	}
	require.NoError(t, db.SetBotState("profit_tracker", tracker{CurrentMonthProfitUSD: 50, LastProfitResetMonth: 6}))

	var got tracker
	require.NoError(t, db.GetBotState("profit_tracker", &got))
	assert.Equal(t, 50.0, got.CurrentMonthProfitUSD)

	// Simulate a month rollover: reset profit and advance the stamp.
	got.CurrentMonthProfitUSD = 0
	got.LastProfitResetMonth = 7
	require.NoError(t, db.SetBotState("profit_tracker", got))

	var after tracker
	require.NoError(t, db.GetBotState("profit_tracker", &after))
	assert.Equal(t, 0.0, after.CurrentMonthProfitUSD)
	assert.Equal(t, 7, after.LastProfitResetMonth)
}

func TestAuditLogAndDailySnapshot(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertMarket(Market{MarketID: "m1", ProductID: "BTC-USD"}))
	require.NoError(t, db.InsertAuditLog("m1", "config_update", "grid_step 0.01 -> 0.02"))
	require.NoError(t, db.InsertDailySnapshot(DailySnapshot{MarketID: "m1", Date: "2026-07-30", EquityUSD: 1050, RealizedPnLUSD: 50, OpenLots: 3}))
}
