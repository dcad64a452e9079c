package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("storage: not found")

// UpsertMarket inserts or replaces a market's configuration row.
func (d *DB) UpsertMarket(m Market) error {
	_, err := d.sql.Exec(`
		INSERT INTO markets (
			market_id, product_id, enabled, grid_step, num_levels, profit_mode,
			custom_profit_pct, sizing_mode, budget_usd, fixed_usd, capital_pct,
			staging_band_pct, grid_top_buffer_pct, monthly_target_usd
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(market_id) DO UPDATE SET
			product_id=excluded.product_id, enabled=excluded.enabled,
			grid_step=excluded.grid_step, num_levels=excluded.num_levels,
			profit_mode=excluded.profit_mode, custom_profit_pct=excluded.custom_profit_pct,
			sizing_mode=excluded.sizing_mode, budget_usd=excluded.budget_usd,
			fixed_usd=excluded.fixed_usd, capital_pct=excluded.capital_pct,
			staging_band_pct=excluded.staging_band_pct,
			grid_top_buffer_pct=excluded.grid_top_buffer_pct,
			monthly_target_usd=excluded.monthly_target_usd
	`,
		m.MarketID, m.ProductID, boolToInt(m.Enabled), m.Config.GridStep, m.Config.NumLevels,
		string(m.Config.ProfitMode), m.Config.CustomProfitPct, string(m.Config.SizingMode),
		m.Config.Budget, m.Config.FixedUSD, m.Config.CapitalPct, m.Config.StagingBandPct,
		m.Config.GridTopBufferPct, m.Config.MonthlyTargetUSD,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

// GetMarket returns a single market by ID.
func (d *DB) GetMarket(marketID string) (Market, error) {
	row := d.sql.QueryRow(`
		SELECT market_id, product_id, enabled, grid_step, num_levels, profit_mode,
			custom_profit_pct, sizing_mode, budget_usd, fixed_usd, capital_pct,
			staging_band_pct, grid_top_buffer_pct, monthly_target_usd, created_at
		FROM markets WHERE market_id = ?`, marketID)
	return scanMarket(row)
}

// ListEnabledMarkets returns every market with enabled=true.
func (d *DB) ListEnabledMarkets() ([]Market, error) {
	rows, err := d.sql.Query(`
		SELECT market_id, product_id, enabled, grid_step, num_levels, profit_mode,
			custom_profit_pct, sizing_mode, budget_usd, fixed_usd, capital_pct,
			staging_band_pct, grid_top_buffer_pct, monthly_target_usd, created_at
		FROM markets WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("list enabled markets: %w", err)
	}
	defer rows.Close()
	var out []Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetMarketEnabled flips a single market's enabled flag.
func (d *DB) SetMarketEnabled(marketID string, enabled bool) error {
	_, err := d.sql.Exec(`UPDATE markets SET enabled=? WHERE market_id=?`, boolToInt(enabled), marketID)
	return err
}

// DisableAllMarkets disables every market atomically (emergency stop).
func (d *DB) DisableAllMarkets() error {
	_, err := d.sql.Exec(`UPDATE markets SET enabled=0`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (Market, error) {
	var m Market
	var enabled int
	var profitMode, sizingMode, createdAt string
	err := row.Scan(
		&m.MarketID, &m.ProductID, &enabled, &m.Config.GridStep, &m.Config.NumLevels,
		&profitMode, &m.Config.CustomProfitPct, &sizingMode, &m.Config.Budget,
		&m.Config.FixedUSD, &m.Config.CapitalPct, &m.Config.StagingBandPct,
		&m.Config.GridTopBufferPct, &m.Config.MonthlyTargetUSD, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Market{}, ErrNotFound
	}
	if err != nil {
		return Market{}, fmt.Errorf("scan market: %w", err)
	}
	m.Enabled = enabled != 0
	m.Config.ProfitMode = grid.ProfitMode(profitMode)
	m.Config.SizingMode = grid.SizingMode(sizingMode)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}

// InsertOrder persists a newly placed open order.
func (d *DB) InsertOrder(o Order) error {
	_, err := d.sql.Exec(`
		INSERT INTO orders (order_id, market_id, side, price, size, status, grid_level)
		VALUES (?,?,?,?,?,?,?)`,
		o.OrderID, o.MarketID, string(o.Side), o.Price, o.Size, string(o.Status), o.GridLevel,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpdateOrderStatus transitions an order's status (FILLED/CANCELED).
func (d *DB) UpdateOrderStatus(orderID string, status OrderStatus) error {
	res, err := d.sql.Exec(`UPDATE orders SET status=?, updated_at=datetime('now') WHERE order_id=?`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("update order status %s: %w", orderID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenOrders returns every OPEN order for a market.
func (d *DB) OpenOrders(marketID string) ([]Order, error) {
	rows, err := d.sql.Query(`
		SELECT order_id, market_id, side, price, size, status, grid_level, created_at, updated_at
		FROM orders WHERE market_id = ? AND status = 'OPEN'`, marketID)
	if err != nil {
		return nil, fmt.Errorf("open orders for %s: %w", marketID, err)
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		var side, status, created, updated string
		if err := rows.Scan(&o.OrderID, &o.MarketID, &side, &o.Price, &o.Size, &status, &o.GridLevel, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = exchange.OrderSide(side)
		o.Status = OrderStatus(status)
		o.CreatedAt, _ = time.Parse(time.RFC3339, created)
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertFill persists an execution record.
func (d *DB) InsertFill(f Fill) error {
	_, err := d.sql.Exec(`
		INSERT INTO fills (order_id, market_id, side, price, size, fee_usd)
		VALUES (?,?,?,?,?,?)`,
		f.OrderID, f.MarketID, string(f.Side), f.Price, f.Size, f.FeeUSD,
	)
	if err != nil {
		return fmt.Errorf("insert fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// OpenLot records a newly opened lot for a filled buy order.
func (d *DB) OpenLot(l Lot) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT INTO lots (market_id, grid_level, buy_order_id, buy_price, size, status)
		VALUES (?,?,?,?,?, 'OPEN')`,
		l.MarketID, l.GridLevel, l.BuyOrderID, l.BuyPrice, l.Size,
	)
	if err != nil {
		return 0, fmt.Errorf("open lot for buy order %s: %w", l.BuyOrderID, err)
	}
	return res.LastInsertId()
}

// CloseLot marks a lot CLOSED with its sell order, price, and realized
// pnl, all in one statement so a lot is never observed CLOSED without
// a pnl value computed (invariant I2).
func (d *DB) CloseLot(lotID int64, sellOrderID string, sellPrice, pnlUSD float64) error {
	res, err := d.sql.Exec(`
		UPDATE lots SET status='CLOSED', sell_order_id=?, sell_price=?, pnl_usd=?, closed_at=datetime('now')
		WHERE lot_id=? AND status='OPEN'`,
		sellOrderID, sellPrice, pnlUSD, lotID,
	)
	if err != nil {
		return fmt.Errorf("close lot %d: %w", lotID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("close lot %d: %w", lotID, ErrNotFound)
	}
	return nil
}

// OpenLots returns every OPEN lot for a market, used by sync_orders to
// avoid double-stacking a grid level already held by an open lot.
func (d *DB) OpenLots(marketID string) ([]Lot, error) {
	rows, err := d.sql.Query(`
		SELECT lot_id, market_id, grid_level, buy_order_id, COALESCE(sell_order_id,''),
			buy_price, COALESCE(sell_price,0), size, status, opened_at
		FROM lots WHERE market_id = ? AND status = 'OPEN'`, marketID)
	if err != nil {
		return nil, fmt.Errorf("open lots for %s: %w", marketID, err)
	}
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		var l Lot
		var status, opened string
		if err := rows.Scan(&l.LotID, &l.MarketID, &l.GridLevel, &l.BuyOrderID, &l.SellOrderID,
			&l.BuyPrice, &l.SellPrice, &l.Size, &status, &opened); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		l.Status = LotStatus(status)
		l.OpenedAt, _ = time.Parse(time.RFC3339, opened)
		out = append(out, l)
	}
	return out, rows.Err()
}

// LotByBuyOrder looks up the lot opened by a given buy order, in any
// status.
func (d *DB) LotByBuyOrder(buyOrderID string) (Lot, error) {
	return d.lotWhere(`buy_order_id = ?`, buyOrderID)
}

// LotBySellOrder looks up the still-open lot awaiting a given sell
// order's fill, used when a SELL fill arrives.
func (d *DB) LotBySellOrder(sellOrderID string) (Lot, error) {
	return d.lotWhere(`sell_order_id = ? AND status = 'OPEN'`, sellOrderID)
}

func (d *DB) lotWhere(where string, args ...any) (Lot, error) {
	row := d.sql.QueryRow(`
		SELECT lot_id, market_id, grid_level, buy_order_id, COALESCE(sell_order_id,''),
			buy_price, COALESCE(sell_price,0), size, status, opened_at
		FROM lots WHERE `+where, args...)
	var l Lot
	var status, opened string
	err := row.Scan(&l.LotID, &l.MarketID, &l.GridLevel, &l.BuyOrderID, &l.SellOrderID,
		&l.BuyPrice, &l.SellPrice, &l.Size, &status, &opened)
	if errors.Is(err, sql.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	if err != nil {
		return Lot{}, fmt.Errorf("lot lookup: %w", err)
	}
	l.Status = LotStatus(status)
	l.OpenedAt, _ = time.Parse(time.RFC3339, opened)
	return l, nil
}

// SetLotSellOrder attaches the take-profit sell order id to a still-
// open lot, so an eventual sell fill can be matched back to it.
func (d *DB) SetLotSellOrder(lotID int64, sellOrderID string) error {
	res, err := d.sql.Exec(`UPDATE lots SET sell_order_id=? WHERE lot_id=? AND status='OPEN'`, sellOrderID, lotID)
	if err != nil {
		return fmt.Errorf("set lot %d sell order: %w", lotID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBotState reads the JSON value for a bot_state key into v.
func (d *DB) GetBotState(key string, v any) error {
	var raw string
	err := d.sql.QueryRow(`SELECT value_json FROM bot_state WHERE key=?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get bot state %s: %w", key, err)
	}
	return json.Unmarshal([]byte(raw), v)
}

// SetBotState writes v as JSON under key, e.g. "{market}_anchor" or
// "profit_tracker", matching the original engine's key naming.
func (d *DB) SetBotState(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bot state %s: %w", key, err)
	}
	_, err = d.sql.Exec(`
		INSERT INTO bot_state (key, value_json) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=datetime('now')`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("set bot state %s: %w", key, err)
	}
	return nil
}

// GetConfig reads a single configuration key, or ("", ErrNotFound).
func (d *DB) GetConfig(key string) (string, error) {
	var v string
	err := d.sql.QueryRow(`SELECT value FROM configuration WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return v, nil
}

// SetConfig writes a single configuration key/value pair.
func (d *DB) SetConfig(key, value string) error {
	_, err := d.sql.Exec(`
		INSERT INTO configuration (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// InsertDailySnapshot records one end-of-day snapshot row.
func (d *DB) InsertDailySnapshot(s DailySnapshot) error {
	_, err := d.sql.Exec(`
		INSERT INTO daily_snapshots (market_id, date, equity_usd, realized_pnl_usd, open_lots)
		VALUES (?,?,?,?,?)
		ON CONFLICT(market_id, date) DO UPDATE SET
			equity_usd=excluded.equity_usd, realized_pnl_usd=excluded.realized_pnl_usd,
			open_lots=excluded.open_lots`,
		s.MarketID, s.Date, s.EquityUSD, s.RealizedPnLUSD, s.OpenLots,
	)
	if err != nil {
		return fmt.Errorf("insert daily snapshot %s/%s: %w", s.MarketID, s.Date, err)
	}
	return nil
}

// InsertAuditLog records a free-text operational event (config
// change, emergency stop, grid-level prune) tied to an optional
// market, giving queryable history distinct from metrics/log output.
func (d *DB) InsertAuditLog(marketID, event, detail string) error {
	_, err := d.sql.Exec(`INSERT INTO audit_log (market_id, event, detail) VALUES (?,?,?)`, nullableString(marketID), event, detail)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", event, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
