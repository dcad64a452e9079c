package engine

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/storage"
	"github.com/chidi150c/gridbot/internal/telemetry"
)

// syncOrdersLocked is a full reconciliation pass: it prunes open buy
// orders that no longer correspond to a live grid level or have
// fallen out of the staging band below the current price, places
// take-profit sells for any lot that doesn't have one resting yet,
// and places new buy orders for any uncovered grid level. The caller
// must already hold this market's lock. Mirrors sync_orders in the
// reference engine, including its single pass / single set of
// storage writes per call and its two price inputs: anchor bounds the
// grid top, currentPrice bounds the staging band and band-pruning.
func (e *Engine) syncOrdersLocked(ctx context.Context, market storage.Market, anchor, currentPrice float64) error {
	cfg := market.Config
	levels := grid.CalculateBuyLevels(anchor, currentPrice, cfg)
	tolerance := grid.Tolerance(cfg.GridStep)

	openOrders, err := e.db.OpenOrders(market.MarketID)
	if err != nil {
		return fmt.Errorf("sync orders %s: load open orders: %w", market.MarketID, err)
	}
	openLots, err := e.db.OpenLots(market.MarketID)
	if err != nil {
		return fmt.Errorf("sync orders %s: load open lots: %w", market.MarketID, err)
	}

	coveredLevels := map[int]bool{}
	for _, l := range openLots {
		if idx := nearestLevelIndex(l.BuyPrice, levels, tolerance); idx >= 0 {
			coveredLevels[idx] = true
		}
		if l.SellOrderID == "" {
			if err := e.placeTakeProfitSell(ctx, market, cfg, l); err != nil {
				return err
			}
		}
	}

	coveredByOrder := map[int]bool{}
	for _, o := range openOrders {
		if o.Side != exchange.SideBuy {
			continue
		}
		pruned, reason := grid.ShouldPrune(o.Price, levels, tolerance, currentPrice, cfg.StagingBandPct)
		if pruned {
			if err := e.cancelOrder(ctx, market.MarketID, o.OrderID, reason); err != nil {
				return err
			}
			continue
		}
		coveredByOrder[nearestLevelIndex(o.Price, levels, tolerance)] = true
	}

	equity, err := e.estimateEquity(ctx, market)
	if err != nil {
		return fmt.Errorf("sync orders %s: estimate equity: %w", market.MarketID, err)
	}
	monthlyProfit, err := e.CurrentMonthlyProfit()
	if err != nil {
		return fmt.Errorf("sync orders %s: monthly profit: %w", market.MarketID, err)
	}
	effectiveBudget := grid.GetEffectiveBudget(cfg, monthlyProfit)

	for i, lvl := range levels {
		if coveredLevels[i] || coveredByOrder[i] {
			continue
		}
		size, warn := grid.SizeForLevel(cfg, effectiveBudget, lvl, equity)
		if warn != "" {
			log.Printf("[engine] %s level %d: %s", market.MarketID, i, warn)
		}
		if err := e.placeBuyOrder(ctx, market, i, lvl, size); err != nil {
			return err
		}
	}

	telemetry.SetOpenOrders(market.MarketID, len(openOrders))
	return nil
}

func nearestLevelIndex(price float64, levels []float64, tolerance float64) int {
	for i, lvl := range levels {
		if lvl <= 0 {
			continue
		}
		if math.Abs(price-lvl)/lvl < tolerance {
			return i
		}
	}
	return -1
}

func (e *Engine) cancelOrder(ctx context.Context, marketID, orderID, reason string) error {
	tctx, cancel := e.withTimeout(ctx)
	err := e.adapter.CancelOrder(tctx, orderID)
	cancel()
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if err := e.db.UpdateOrderStatus(orderID, storage.OrderCanceled); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("mark order %s canceled: %w", orderID, err)
	}
	telemetry.IncPrune(marketID, reason)
	_ = e.db.InsertAuditLog(marketID, "order_pruned", fmt.Sprintf("order=%s reason=%s", orderID, reason))
	return nil
}

func (e *Engine) placeBuyOrder(ctx context.Context, market storage.Market, level int, price, size float64) error {
	tctx, cancel := e.withTimeout(ctx)
	orderID, err := e.adapter.PlaceLimitOrder(tctx, market.ProductID, exchange.SideBuy, price, size, true)
	cancel()
	if err != nil {
		return fmt.Errorf("place buy order at level %d: %w", level, err)
	}
	return e.db.InsertOrder(storage.Order{
		OrderID: orderID, MarketID: market.MarketID, Side: exchange.SideBuy,
		Price: price, Size: size, Status: storage.OrderOpen, GridLevel: level,
	})
}

func (e *Engine) placeTakeProfitSell(ctx context.Context, market storage.Market, cfg grid.Config, lot storage.Lot) error {
	sellPrice := grid.GetSellPrice(lot.BuyPrice, cfg)
	tctx, cancel := e.withTimeout(ctx)
	orderID, err := e.adapter.PlaceLimitOrder(tctx, market.ProductID, exchange.SideSell, sellPrice, lot.Size, true)
	cancel()
	if err != nil {
		return fmt.Errorf("place take-profit sell for lot %d: %w", lot.LotID, err)
	}
	if err := e.db.InsertOrder(storage.Order{
		OrderID: orderID, MarketID: market.MarketID, Side: exchange.SideSell,
		Price: sellPrice, Size: lot.Size, Status: storage.OrderOpen, GridLevel: lot.GridLevel,
	}); err != nil {
		return fmt.Errorf("insert take-profit order for lot %d: %w", lot.LotID, err)
	}
	return e.db.SetLotSellOrder(lot.LotID, orderID)
}

// estimateEquity returns the quote-currency balance available for
// sizing under CAPITAL_PCT, falling back to the market's configured
// budget if balances are unavailable (e.g. a Mock adapter with no
// notion of this market's quote asset).
func (e *Engine) estimateEquity(ctx context.Context, market storage.Market) (float64, error) {
	tctx, cancel := e.withTimeout(ctx)
	balances, err := e.adapter.GetBalances(tctx)
	cancel()
	if err != nil {
		return market.Config.Budget, nil //nolint:nilerr // balances are best-effort for sizing
	}
	if usd, ok := balances["USD"]; ok {
		return usd, nil
	}
	return market.Config.Budget, nil
}
