// Package engine drives the grid-trading tick loop: anchor rebase,
// order-book reconciliation, fill processing, the catch-up scanner,
// and the emergency stop. It is the only package that mutates
// storage and talks to an exchange adapter; internal/grid supplies
// the pure arithmetic it reconciles against.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/storage"
	"github.com/chidi150c/gridbot/internal/telemetry"
)

// Broadcaster pushes state updates to external subscribers (the
// out-of-scope HTTP/WS control plane). The engine only calls it
// through this interface; NoopBroadcaster is used when nothing is
// wired up, which is the default for this module.
type Broadcaster interface {
	Broadcast(marketID string, payload any)
}

// NoopBroadcaster discards every broadcast. The real control-plane
// broadcaster is an external collaborator outside this module's scope.
type NoopBroadcaster struct{}

func (NoopBroadcaster) Broadcast(string, any) {}

// Engine coordinates the grid strategy against storage and an
// exchange adapter for every enabled market.
type Engine struct {
	db          *storage.DB
	adapter     exchange.Adapter
	paper       *exchange.PaperAdapter // non-nil only when adapter is paper-wrapped
	broadcaster Broadcaster
	timeout     time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine. If adapter is a *exchange.PaperAdapter, fills
// are detected via its synchronous CheckFills; otherwise fills are
// detected by polling GetFills (Open Question #1's resolution).
func New(db *storage.DB, adapter exchange.Adapter, broadcaster Broadcaster, callTimeout time.Duration) *Engine {
	paper, _ := adapter.(*exchange.PaperAdapter)
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &Engine{
		db:          db,
		adapter:     adapter,
		paper:       paper,
		broadcaster: broadcaster,
		timeout:     callTimeout,
		locks:       map[string]*sync.Mutex{},
	}
}

// marketLock returns the per-market mutex that Tick holds around
// processFillsLocked and syncOrdersLocked for marketID, creating it on
// first use. Per-market
// locking is required so two concurrently running ticks (e.g. a
// regular tick racing the catch-up scanner) for the same market never
// interleave their reconciliation passes.
func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[marketID] = l
	}
	return l
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// anchorState is the {"price": ...} value stored under "{market}_anchor".
type anchorState struct {
	Price float64 `json:"price"`
}

func (e *Engine) getAnchor(marketID string) (float64, error) {
	var st anchorState
	err := e.db.GetBotState(marketID+"_anchor", &st)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return st.Price, nil
}

func (e *Engine) setAnchor(marketID string, price float64) error {
	return e.db.SetBotState(marketID+"_anchor", anchorState{Price: price})
}

// Tick runs one full reconciliation pass for a single market:
// check the monthly profit reset, fetch the ticker, process any
// fills, rebase the anchor, broadcast state, then reconcile open
// orders against the current grid.
func (e *Engine) Tick(ctx context.Context, marketID string) error {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := e.db.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("tick %s: load market: %w", marketID, err)
	}
	if !market.Enabled {
		return nil
	}

	if err := e.CheckMonthlyReset(); err != nil {
		return fmt.Errorf("tick %s: monthly reset: %w", marketID, err)
	}

	tctx, cancel := e.withTimeout(ctx)
	price, err := e.adapter.GetTicker(tctx, market.ProductID)
	cancel()
	if err != nil {
		return fmt.Errorf("tick %s: get ticker: %w", marketID, err)
	}
	if price <= 0 {
		return nil // guard against a zero/garbage tick, same as the reference engine
	}

	if err := e.processFillsLocked(ctx, market, price); err != nil {
		return fmt.Errorf("tick %s: process fills: %w", marketID, err)
	}

	anchor, err := e.getAnchor(marketID)
	if err != nil {
		return fmt.Errorf("tick %s: get anchor: %w", marketID, err)
	}
	newAnchor := grid.CalculateAnchor(anchor, price)
	if newAnchor != anchor {
		if err := e.setAnchor(marketID, newAnchor); err != nil {
			return fmt.Errorf("tick %s: set anchor: %w", marketID, err)
		}
	}
	telemetry.SetAnchorPrice(marketID, newAnchor)
	telemetry.IncTick(marketID)

	e.broadcaster.Broadcast(marketID, map[string]any{"price": price, "anchor": newAnchor})

	if err := e.syncOrdersLocked(ctx, market, newAnchor, price); err != nil {
		return fmt.Errorf("tick %s: sync orders: %w", marketID, err)
	}
	return nil
}
