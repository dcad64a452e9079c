package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chidi150c/gridbot/internal/grid"
)

// MockAdapter is a standalone in-memory exchange with a fixed product
// set and starting prices, used for tests and for demoing the bot
// without wrapping a real venue at all.
type MockAdapter struct {
	mu       sync.Mutex
	orders   map[string]*OpenOrder
	filled   map[string]bool
	balances map[string]float64
	prices   map[string]float64
}

// NewMockAdapter returns a MockAdapter seeded with five products and
// starting balances, matching the reference in-memory exchange.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		orders: map[string]*OpenOrder{},
		filled: map[string]bool{},
		balances: map[string]float64{
			"USD": 10000.0,
			"BTC": 1.0,
			"ETH": 10.0,
		},
		prices: map[string]float64{
			"BTC-USD": 50000.0,
			"ETH-USD": 3000.0,
			"SOL-USD": 100.0,
			"ADA-USD": 1.20,
			"DOT-USD": 7.50,
		},
	}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) GetProducts(ctx context.Context) ([]Product, error) {
	return []Product{
		{ID: "BTC-USD", BaseCurrency: "BTC", QuoteCurrency: "USD"},
		{ID: "ETH-USD", BaseCurrency: "ETH", QuoteCurrency: "USD"},
		{ID: "SOL-USD", BaseCurrency: "SOL", QuoteCurrency: "USD"},
		{ID: "ADA-USD", BaseCurrency: "ADA", QuoteCurrency: "USD"},
		{ID: "DOT-USD", BaseCurrency: "DOT", QuoteCurrency: "USD"},
	}, nil
}

func (m *MockAdapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockAdapter) GetTicker(ctx context.Context, product string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prices[product], nil
}

// GetCandles is not meaningfully simulated by the mock adapter; it
// returns a single flat candle at the current price so callers that
// need at least one data point don't fail outright.
func (m *MockAdapter) GetCandles(ctx context.Context, product, granularity string, limit int) ([]grid.Candle, error) {
	price, _ := m.GetTicker(ctx, product)
	return []grid.Candle{{Time: time.Now(), Open: price, High: price, Low: price, Close: price}}, nil
}

func (m *MockAdapter) PlaceLimitOrder(ctx context.Context, product string, side OrderSide, price, size float64, postOnly bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cost := price * size
	switch side {
	case SideBuy:
		if m.balances["USD"] < cost {
			return "", fmt.Errorf("insufficient funds: need %.2f USD, have %.2f", cost, m.balances["USD"])
		}
		m.balances["USD"] -= cost
	case SideSell:
		base := strings.SplitN(product, "-", 2)[0]
		if m.balances[base] < size {
			return "", fmt.Errorf("insufficient funds: need %.8f %s, have %.8f", size, base, m.balances[base])
		}
		m.balances[base] -= size
	}

	id := uuid.NewString()
	m.orders[id] = &OpenOrder{ID: id, ProductID: product, Side: side, Price: price, Size: size, CreatedAt: time.Now()}
	return id, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(m.orders, orderID)
	return nil
}

func (m *MockAdapter) ListOpenOrders(ctx context.Context, product string) ([]OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OpenOrder
	for _, o := range m.orders {
		if product == "" || o.ProductID == product {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *MockAdapter) GetFills(ctx context.Context, since *time.Time) ([]Fill, error) {
	return nil, nil
}

func (m *MockAdapter) StreamFills(ctx context.Context, out chan<- Fill) error {
	<-ctx.Done()
	return ctx.Err()
}

// StreamTicker wiggles each product's price by +/-0.05% once a
// second, matching the reference mock exchange's simulated feed.
func (m *MockAdapter) StreamTicker(ctx context.Context, products []string, out chan<- TickerEvent) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	up := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.mu.Lock()
			for _, pid := range products {
				current, ok := m.prices[pid]
				if !ok {
					continue
				}
				wiggle := current * 0.0005
				if !up {
					wiggle = -wiggle
				}
				next := current + wiggle
				m.prices[pid] = next
				select {
				case out <- TickerEvent{ProductID: pid, Price: next, Time: time.Now()}:
				default:
				}
			}
			m.mu.Unlock()
			up = !up
		}
	}
}

// SetPrice lets tests pin a product's price directly.
func (m *MockAdapter) SetPrice(product string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[product] = price
}
