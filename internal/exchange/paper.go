package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chidi150c/gridbot/internal/grid"
)

// PaperAdapter wraps a real or mock Adapter, delegating every
// market-data call to it, but replacing order execution with a
// deterministic in-memory limit matcher: a BUY fills when the ticker
// touches at or below its price, a SELL when it touches at or above.
// This is the engine's default mode.
type PaperAdapter struct {
	inner Adapter

	mu       sync.Mutex
	orders   map[string]*OpenOrder
	balances map[string]float64
	fillsCh  chan Fill
}

// NewPaperAdapter wraps inner with the deterministic paper matcher.
func NewPaperAdapter(inner Adapter) *PaperAdapter {
	return &PaperAdapter{
		inner:    inner,
		orders:   map[string]*OpenOrder{},
		balances: map[string]float64{"USD": 10000.0},
		fillsCh:  make(chan Fill, 64),
	}
}

func (p *PaperAdapter) Name() string { return "paper(" + p.inner.Name() + ")" }

func (p *PaperAdapter) GetProducts(ctx context.Context) ([]Product, error) {
	return p.inner.GetProducts(ctx)
}

func (p *PaperAdapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *PaperAdapter) GetTicker(ctx context.Context, product string) (float64, error) {
	return p.inner.GetTicker(ctx, product)
}

func (p *PaperAdapter) GetCandles(ctx context.Context, product, granularity string, limit int) ([]grid.Candle, error) {
	return p.inner.GetCandles(ctx, product, granularity, limit)
}

// nextOrderID mirrors the teacher's millis+random paper-order id
// shape (broker_paper.go), rather than the Python original's
// paper_{uuid4hex[:8]}, to match this module's Go-side ID texture.
func nextOrderID() string {
	return fmt.Sprintf("paper_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

func (p *PaperAdapter) PlaceLimitOrder(ctx context.Context, product string, side OrderSide, price, size float64, postOnly bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := nextOrderID()
	p.orders[id] = &OpenOrder{ID: id, ProductID: product, Side: side, Price: price, Size: size, CreatedAt: time.Now()}
	return id, nil
}

// CancelOrder returns an error when the order is unknown, per this
// module's explicit requirement (the Python original's paper wrapper
// returns true unconditionally; this deliberately diverges — see
// DESIGN.md).
func (p *PaperAdapter) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(p.orders, orderID)
	return nil
}

func (p *PaperAdapter) ListOpenOrders(ctx context.Context, product string) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OpenOrder
	for _, o := range p.orders {
		if product == "" || o.ProductID == product {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *PaperAdapter) GetFills(ctx context.Context, since *time.Time) ([]Fill, error) {
	return nil, nil
}

func (p *PaperAdapter) StreamFills(ctx context.Context, out chan<- Fill) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.fillsCh:
			select {
			case out <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *PaperAdapter) StreamTicker(ctx context.Context, products []string, out chan<- TickerEvent) error {
	return p.inner.StreamTicker(ctx, products, out)
}

// CheckFills matches price against every currently open order for
// product and fills anything touched: a BUY fills when price <= the
// order's limit price, a SELL when price >= it. Fills happen at the
// limit price with zero fee, matching the deterministic
// exchanges/paper.py reference matcher. Returns the fills produced.
func (p *PaperAdapter) CheckFills(product string, price float64) []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fills []Fill
	for id, o := range p.orders {
		if o.ProductID != product {
			continue
		}
		touched := false
		switch o.Side {
		case SideBuy:
			touched = price <= o.Price
		case SideSell:
			touched = price >= o.Price
		}
		if !touched {
			continue
		}
		f := Fill{OrderID: id, ProductID: product, Side: o.Side, Price: o.Price, Size: o.Size, FeeUSD: 0, Time: time.Now()}
		fills = append(fills, f)
		delete(p.orders, id)
		select {
		case p.fillsCh <- f:
		default:
		}
	}
	return fills
}

// OpenOrderByID returns the cached open order, if any, for callers
// that need to inspect it directly.
func (p *PaperAdapter) OpenOrderByID(id string) (OpenOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return OpenOrder{}, false
	}
	return *o, true
}
