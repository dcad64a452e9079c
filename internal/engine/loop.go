package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chidi150c/gridbot/internal/telemetry"
)

// TickInterval is the per-market reconciliation cadence.
const TickInterval = 5 * time.Second

// CatchUpInterval is the cadence of the coarser scanner that re-ticks
// every enabled market regardless of its individual ticker, a safety
// net against a stuck per-market goroutine.
const CatchUpInterval = 60 * time.Second

// RunLoop drives every enabled market concurrently until ctx is
// canceled: one goroutine per market runs Tick every TickInterval, and
// a single catch-up goroutine re-ticks every enabled market roughly
// once a minute as a backstop. A singleflight group deduplicates a
// catch-up tick against a regular tick already in flight for the same
// market, matching the "int(time.Now().Unix())%60 < 5" coarse window
// the reference engine uses to decide when the catch-up pass fires.
func (e *Engine) RunLoop(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	var sf singleflight.Group

	markets, err := e.db.ListEnabledMarkets()
	if err != nil {
		return fmt.Errorf("run loop: list enabled markets: %w", err)
	}
	for _, m := range markets {
		marketID := m.MarketID
		g.Go(func() error {
			return e.tickLoop(ctx, marketID, &sf)
		})
	}
	g.Go(func() error {
		return e.catchUpLoop(ctx, &sf)
	})
	return g.Wait()
}

func (e *Engine) tickLoop(ctx context.Context, marketID string, sf *singleflight.Group) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err, _ := sf.Do(marketID, func() (any, error) {
				return nil, e.Tick(ctx, marketID)
			})
			if err != nil {
				log.Printf("[engine] tick %s: %v", marketID, err)
			}
		}
	}
}

// catchUpLoop re-ticks every currently enabled market once within each
// 60-second window's first five seconds, in case a market's own
// goroutine has wedged or a market was enabled after RunLoop started.
func (e *Engine) catchUpLoop(ctx context.Context, sf *singleflight.Group) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if int(time.Now().Unix())%60 >= 5 {
				continue
			}
			markets, err := e.db.ListEnabledMarkets()
			if err != nil {
				log.Printf("[engine] catch-up scan: list enabled markets: %v", err)
				continue
			}
			for _, m := range markets {
				marketID := m.MarketID
				go func() {
					_, err, _ := sf.Do(marketID, func() (any, error) {
						return nil, e.Tick(ctx, marketID)
					})
					if err != nil {
						log.Printf("[engine] catch-up tick %s: %v", marketID, err)
					}
				}()
			}
		}
	}
}

// StopAndCancelAll is the emergency stop: it disables every market so
// no further ticks place new orders, cancels every currently open
// order across every market, and records the action to the audit log.
func (e *Engine) StopAndCancelAll(ctx context.Context) error {
	markets, err := e.db.ListEnabledMarkets()
	if err != nil {
		return fmt.Errorf("emergency stop: list enabled markets: %w", err)
	}
	if err := e.db.DisableAllMarkets(); err != nil {
		return fmt.Errorf("emergency stop: disable all markets: %w", err)
	}

	// Every market holding an open order, enabled or not.
	rows, err := e.db.SqlDB().Query(`SELECT DISTINCT market_id FROM orders WHERE status = 'OPEN'`)
	if err != nil {
		return fmt.Errorf("emergency stop: list markets with open orders: %w", err)
	}
	var marketIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("emergency stop: scan market id: %w", err)
		}
		marketIDs = append(marketIDs, id)
	}
	rows.Close()

	var firstErr error
	for _, marketID := range marketIDs {
		lock := e.marketLock(marketID)
		lock.Lock()
		orders, err := e.db.OpenOrders(marketID)
		if err != nil {
			lock.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("emergency stop: open orders %s: %w", marketID, err)
			}
			continue
		}
		for _, o := range orders {
			if err := e.cancelOrder(ctx, marketID, o.OrderID, "Emergency Stop"); err != nil {
				log.Printf("[engine] emergency stop: cancel %s: %v", o.OrderID, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		lock.Unlock()
	}

	telemetry.IncEmergencyStop()
	_ = e.db.InsertAuditLog("", "emergency_stop", fmt.Sprintf("markets=%d", len(markets)))
	return firstErr
}
