package storage

import (
	"time"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
)

// Market is one tradable grid market and its configuration.
type Market struct {
	MarketID  string
	ProductID string
	Enabled   bool
	Config    grid.Config
	CreatedAt time.Time
}

// OrderStatus is the lifecycle state of a persisted order row.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Order is a persisted grid leg, open or resolved.
type Order struct {
	OrderID   string
	MarketID  string
	Side      exchange.OrderSide
	Price     float64
	Size      float64
	Status    OrderStatus
	GridLevel int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill is a persisted execution against an order.
type Fill struct {
	ID       int64
	OrderID  string
	MarketID string
	Side     exchange.OrderSide
	Price    float64
	Size     float64
	FeeUSD   float64
	FilledAt time.Time
}

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotOpen   LotStatus = "OPEN"
	LotClosed LotStatus = "CLOSED"
)

// Lot ties a buy fill to its eventual sell fill, one lot per buy,
// per spec's "no FIFO tax-lot accounting beyond one lot per buy".
type Lot struct {
	LotID       int64
	MarketID    string
	GridLevel   int
	BuyOrderID  string
	SellOrderID string
	BuyPrice    float64
	SellPrice   float64
	Size        float64
	Status      LotStatus
	PnLUSD      *float64
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// DailySnapshot is one end-of-day equity/pnl record for a market.
type DailySnapshot struct {
	MarketID       string
	Date           string // YYYY-MM-DD
	EquityUSD      float64
	RealizedPnLUSD float64
	OpenLots       int
}
