// Program gridbot runs the grid-trading engine against a single spot
// market account: paper trading by default, or a live REST+WebSocket
// venue when BROKER=real and LIVE_TRADING=true.
//
// Boot sequence:
//  1. config.LoadBotEnv()       - read .env (no shell exports required)
//  2. config.LoadFromEnv()      - build runtime Config
//  3. storage.Open(cfg.DBPath)  - open/migrate the local database
//  4. wire the exchange adapter (mock/real, paper-wrapped unless live)
//  5. seed the default market from env if storage has no enabled market
//  6. start the Prometheus /healthz + /metrics server on cfg.Port
//  7. engine.RunLoop until SIGINT/SIGTERM, then emergency-stop cleanly
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chidi150c/gridbot/internal/config"
	"github.com/chidi150c/gridbot/internal/engine"
	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/storage"
)

func main() {
	config.LoadBotEnv()
	cfg := config.LoadFromEnv()

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	adapter, err := buildAdapter(cfg)
	if err != nil {
		log.Fatalf("build adapter: %v", err)
	}

	if err := seedDefaultMarket(db); err != nil {
		log.Fatalf("seed default market: %v", err)
	}

	eng := engine.New(db, adapter, engine.NoopBroadcaster{}, time.Duration(cfg.AdapterTimeoutSec)*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("gridbot running, adapter=%s live=%v", adapter.Name(), cfg.LiveTrading)
	if err := eng.RunLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("run loop: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := eng.StopAndCancelAll(stopCtx); err != nil {
		log.Printf("shutdown: cancel all orders: %v", err)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// buildAdapter wires the configured exchange adapter, wrapping it in
// the deterministic paper matcher unless the operator explicitly opts
// into live trading.
func buildAdapter(cfg config.Config) (exchange.Adapter, error) {
	var base exchange.Adapter
	switch cfg.Broker {
	case "real":
		real, err := exchange.NewRealAdapter(exchange.RealAdapterConfig{
			BaseURL:    cfg.ExchangeBaseURL,
			WSURL:      cfg.ExchangeWSURL,
			KeyName:    cfg.ExchangeKeyName,
			ECPrivPEM:  cfg.ExchangeECKey,
			MaxRetries: 3,
			Timeout:    time.Duration(cfg.AdapterTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("real adapter: %w", err)
		}
		base = real
	default:
		base = exchange.NewMockAdapter()
	}

	if cfg.LiveTrading && cfg.Broker == "real" {
		return base, nil
	}
	return exchange.NewPaperAdapter(base), nil
}

// seedDefaultMarket upserts one enabled market from environment
// defaults whenever storage holds no enabled market, so a fresh
// checkout trades out of the box in paper mode. This includes a boot
// after the shutdown emergency stop disabled every market: the default
// market is then re-enabled and its stored grid configuration is
// replaced by the environment values.
func seedDefaultMarket(db *storage.DB) error {
	markets, err := db.ListEnabledMarkets()
	if err != nil {
		return err
	}
	if len(markets) > 0 {
		return nil
	}

	productID := envOr("GRID_PRODUCT_ID", "BTC-USD")
	market := storage.Market{
		MarketID:  productID,
		ProductID: productID,
		Enabled:   true,
		Config: grid.Config{
			GridStep:         envOrFloat("GRID_STEP", 0.01),
			NumLevels:        envOrInt("GRID_NUM_LEVELS", 10),
			ProfitMode:       grid.ProfitMode(envOr("GRID_PROFIT_MODE", string(grid.ProfitModeStep))),
			CustomProfitPct:  envOrFloat("GRID_CUSTOM_PROFIT_PCT", 0),
			SizingMode:       grid.SizingMode(envOr("GRID_SIZING_MODE", string(grid.SizingBudgetSplit))),
			Budget:           envOrFloat("GRID_BUDGET_USD", 1000),
			FixedUSD:         envOrFloat("GRID_FIXED_USD", 0),
			CapitalPct:       envOrFloat("GRID_CAPITAL_PCT", 0),
			StagingBandPct:   envOrFloat("GRID_STAGING_BAND_PCT", 0.05),
			GridTopBufferPct: envOrFloat("GRID_TOP_BUFFER_PCT", 0.02),
			MonthlyTargetUSD: envOrFloat("GRID_MONTHLY_TARGET_USD", 0),
		},
	}
	return db.UpsertMarket(market)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return def
	}
	return f
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
