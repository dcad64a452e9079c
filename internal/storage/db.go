// Package storage persists markets, orders, fills, lots, bot state,
// configuration, and daily snapshots to a local SQLite database. The
// driver is pure Go (no cgo), matching the corpus's guidance for a
// single-process, paper-trading-by-default bot that shouldn't need an
// external database server to boot.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection and its versioned migrations.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and runs any pending
// migrations. Pass ":memory:" for an ephemeral in-process database,
// as the tests do.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = path
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// SqlDB exposes the underlying *sql.DB for ad hoc queries by callers
// (the engine uses it for lookups the repository has no method for).
func (d *DB) SqlDB() *sql.DB { return d.sql }

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS markets (
				market_id          TEXT PRIMARY KEY,
				product_id         TEXT NOT NULL,
				enabled            INTEGER NOT NULL DEFAULT 0,
				grid_step          REAL NOT NULL DEFAULT 0.01,
				num_levels         INTEGER NOT NULL DEFAULT 10,
				profit_mode        TEXT NOT NULL DEFAULT 'STEP',
				custom_profit_pct  REAL NOT NULL DEFAULT 0,
				sizing_mode        TEXT NOT NULL DEFAULT 'BUDGET_SPLIT',
				budget_usd         REAL NOT NULL DEFAULT 1000,
				fixed_usd          REAL NOT NULL DEFAULT 0,
				capital_pct        REAL NOT NULL DEFAULT 0,
				staging_band_pct   REAL NOT NULL DEFAULT 0.05,
				grid_top_buffer_pct REAL NOT NULL DEFAULT 0.02,
				monthly_target_usd REAL NOT NULL DEFAULT 0,
				created_at         TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS orders (
				order_id    TEXT PRIMARY KEY,
				market_id   TEXT NOT NULL REFERENCES markets(market_id),
				side        TEXT NOT NULL,
				price       REAL NOT NULL,
				size        REAL NOT NULL,
				status      TEXT NOT NULL DEFAULT 'OPEN',
				grid_level  INTEGER NOT NULL DEFAULT -1,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders(market_id, status);

			CREATE TABLE IF NOT EXISTS fills (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				order_id   TEXT NOT NULL REFERENCES orders(order_id),
				market_id  TEXT NOT NULL REFERENCES markets(market_id),
				side       TEXT NOT NULL,
				price      REAL NOT NULL,
				size       REAL NOT NULL,
				fee_usd    REAL NOT NULL DEFAULT 0,
				filled_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_fills_market ON fills(market_id);

			CREATE TABLE IF NOT EXISTS lots (
				lot_id       INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id    TEXT NOT NULL REFERENCES markets(market_id),
				grid_level   INTEGER NOT NULL,
				buy_order_id TEXT NOT NULL REFERENCES orders(order_id),
				sell_order_id TEXT,
				buy_price    REAL NOT NULL,
				sell_price   REAL,
				size         REAL NOT NULL,
				status       TEXT NOT NULL DEFAULT 'OPEN',
				pnl_usd      REAL,
				opened_at    TEXT NOT NULL DEFAULT (datetime('now')),
				closed_at    TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_lots_market_status ON lots(market_id, status);
			CREATE INDEX IF NOT EXISTS idx_lots_market_level ON lots(market_id, grid_level, status);

			CREATE TABLE IF NOT EXISTS bot_state (
				key        TEXT PRIMARY KEY,
				value_json TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS configuration (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS daily_snapshots (
				market_id   TEXT NOT NULL REFERENCES markets(market_id),
				date        TEXT NOT NULL,
				equity_usd  REAL NOT NULL,
				realized_pnl_usd REAL NOT NULL DEFAULT 0,
				open_lots   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (market_id, date)
			);

			CREATE TABLE IF NOT EXISTS audit_log (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id  TEXT,
				event      TEXT NOT NULL,
				detail     TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_audit_market ON audit_log(market_id, created_at DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}
