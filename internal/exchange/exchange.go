// Package exchange defines the exchange adapter contract and its
// three implementations: Mock (standalone in-memory exchange), Real
// (REST + WebSocket client for a live spot venue), and Paper (wraps
// either, replacing order execution with a deterministic in-memory
// matcher fed by the wrapped adapter's ticker).
package exchange

import (
	"context"
	"time"

	"github.com/chidi150c/gridbot/internal/grid"
)

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Product describes one tradable market on the venue.
type Product struct {
	ID            string
	BaseCurrency  string
	QuoteCurrency string
}

// OpenOrder is a normalized view of a resting limit order.
type OpenOrder struct {
	ID        string
	ProductID string
	Side      OrderSide
	Price     float64
	Size      float64
	CreatedAt time.Time
}

// Fill is an executed trade.
type Fill struct {
	OrderID   string
	ProductID string
	Side      OrderSide
	Price     float64
	Size      float64
	FeeUSD    float64
	Time      time.Time
}

// TickerEvent is one push update from StreamTicker.
type TickerEvent struct {
	ProductID string
	Price     float64
	Time      time.Time
}

// Adapter is the minimal surface the engine needs to operate against
// a spot-market venue, real or simulated. Every method takes a
// context so the engine can bound calls with a timeout.
type Adapter interface {
	Name() string
	GetProducts(ctx context.Context) ([]Product, error)
	GetBalances(ctx context.Context) (map[string]float64, error)
	GetTicker(ctx context.Context, product string) (float64, error)
	GetCandles(ctx context.Context, product, granularity string, limit int) ([]grid.Candle, error)
	PlaceLimitOrder(ctx context.Context, product string, side OrderSide, price, size float64, postOnly bool) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context, product string) ([]OpenOrder, error)
	GetFills(ctx context.Context, since *time.Time) ([]Fill, error)
	StreamTicker(ctx context.Context, products []string, out chan<- TickerEvent) error
	StreamFills(ctx context.Context, out chan<- Fill) error
}
