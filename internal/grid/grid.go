// Package grid holds the pure, side-effect-free arithmetic of the grid
// trading strategy: anchor tracking, buy-level spacing, sell pricing,
// pruning, and per-level sizing. Nothing in this package talks to a
// network, a clock, or a database — every function is deterministic
// given its inputs, which is what lets the engine package unit test
// reconciliation logic without a broker or a DB.
package grid

import (
	"fmt"
	"math"
	"time"
)

// Candle is the normalized OHLCV row used across the strategy and
// engine packages.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ProfitMode selects how a lot's sell price (and, for the reinvest
// variants, the effective budget) is derived.
type ProfitMode string

const (
	ProfitModeStep          ProfitMode = "STEP"
	ProfitModeCustom        ProfitMode = "CUSTOM"
	ProfitModeStepReinvest  ProfitMode = "STEP_REINVEST"
	ProfitModeSmartReinvest ProfitMode = "SMART_REINVEST"
)

// SizingMode selects how a grid level's order size is computed.
type SizingMode string

const (
	SizingBudgetSplit SizingMode = "BUDGET_SPLIT"
	SizingFixedUSD    SizingMode = "FIXED_USD"
	SizingCapitalPct  SizingMode = "CAPITAL_PCT"
)

// Minimum order size floor and fallback size, mirrored from the
// original engine's sync_orders: any computed size below MinOrderSize
// is raised to MinOrderSize; FallbackOrderSize is used when a sizing
// mode can't produce a positive value.
const (
	MinOrderSize      = 0.00001
	FallbackOrderSize = 0.0001
)

// Config is the per-market grid configuration, stored in the
// Configuration/Market tables and mutable at runtime via UpdateConfig.
type Config struct {
	GridStep          float64 // e.g. 0.01 for 1% spacing between levels
	NumLevels         int
	ProfitMode        ProfitMode
	CustomProfitPct   float64 // used when ProfitMode == CUSTOM
	SizingMode        SizingMode
	Budget            float64 // total USD budget split across levels (BUDGET_SPLIT)
	FixedUSD          float64 // per-level USD notional (FIXED_USD)
	CapitalPct        float64 // fraction of equity per level (CAPITAL_PCT)
	StagingBandPct    float64 // how far below the current price a buy order may sit before being out of band
	GridTopBufferPct  float64 // fraction the grid top is pulled in below the anchor
	MonthlyTargetUSD  float64 // target monthly profit for SMART_REINVEST
}

// CalculateAnchor returns the new anchor price given the current one
// and the latest ticker price. The anchor is monotone non-decreasing:
// it only moves up when the market makes a new high.
func CalculateAnchor(currentAnchor, price float64) float64 {
	if price > currentAnchor {
		return price
	}
	return currentAnchor
}

// CalculateBuyLevels walks down from the grid top (the anchor, pulled
// in by GridTopBufferPct when configured) in GridStep decrements,
// keeping every level that both clears the staging band — the floor
// at current*(1-StagingBandPct) — and sits below the current price.
// This is what clusters new buy orders just under the live ticker as
// it falls, rather than leaving them stranded off a stale anchor.
// cfg.NumLevels doubles as a safety cap on how many levels a single
// call may emit, matching the reference strategy's max_orders break.
func CalculateBuyLevels(anchor, current float64, cfg Config) []float64 {
	if anchor <= 0 || current <= 0 {
		return nil
	}
	gridTop := anchor
	if cfg.GridTopBufferPct > 0 {
		gridTop = anchor * (1 - cfg.GridTopBufferPct)
	}
	lowerBound := current * (1 - cfg.StagingBandPct)

	maxLevels := cfg.NumLevels
	if maxLevels <= 0 {
		maxLevels = 10
	}

	var levels []float64
	levelPrice := gridTop * (1 - cfg.GridStep)
	for levelPrice > lowerBound {
		if levelPrice < current {
			levels = append(levels, levelPrice)
		}
		levelPrice = levelPrice * (1 - cfg.GridStep)
		if len(levels) >= maxLevels {
			break
		}
	}
	return levels
}

// GetSellPrice returns the sell price for a lot bought at buyPrice,
// dispatching on cfg.ProfitMode. Reinvestment (STEP_REINVEST,
// SMART_REINVEST) only changes the budget fed into sizing, never the
// per-lot sell target, so both reinvest modes use the STEP formula.
func GetSellPrice(buyPrice float64, cfg Config) float64 {
	switch cfg.ProfitMode {
	case ProfitModeCustom:
		return buyPrice * (1 + cfg.CustomProfitPct)
	default: // STEP, STEP_REINVEST, SMART_REINVEST
		return buyPrice * (1 + cfg.GridStep)
	}
}

// Tolerance returns the price-matching tolerance used when deciding
// whether an open order still corresponds to a live grid level.
// Falls back to a fixed 0.01 when gridStep is non-positive (shouldn't
// happen in practice, but a misconfigured market must not panic here).
func Tolerance(gridStep float64) float64 {
	t := gridStep * 0.2
	if gridStep <= 0 {
		return 0.01
	}
	return t
}

// IsValidLevel reports whether orderPrice still matches one of levels
// within tolerance, a fraction of the level's own price rather than an
// absolute amount: abs(orderPrice-lvl)/lvl < tolerance. Matching
// relative to the level keeps the comparison meaningful across wildly
// different price scales (a $0.07 cent ghost order check on a
// $30,000 BTC level would otherwise be absurdly tight).
func IsValidLevel(orderPrice float64, levels []float64, tolerance float64) bool {
	for _, lvl := range levels {
		if lvl <= 0 {
			continue
		}
		if math.Abs(orderPrice-lvl)/lvl < tolerance {
			return true
		}
	}
	return false
}

// ShouldPrune reports whether an open order at orderPrice no longer
// belongs on the grid, and why. An order is pruned as a ghost order
// when it no longer matches any current level within tolerance,
// regardless of where it sits relative to the band; otherwise it's
// pruned as out of band when it has fallen below the staging floor
// at current*(1-StagingBandPct) — the market has moved up away from it.
func ShouldPrune(orderPrice float64, levels []float64, tolerance, current, stagingBandPct float64) (bool, string) {
	if !IsValidLevel(orderPrice, levels, tolerance) {
		return true, "Ghost Order (Settings Changed)"
	}
	lowerBound := current * (1 - stagingBandPct)
	if orderPrice < lowerBound {
		return true, "Out of Band"
	}
	return false, ""
}

// GetEffectiveBudget returns the USD budget to split across grid
// levels for this tick. Under SMART_REINVEST, once the month's
// realized profit has cleared the configured monthly target, the
// surplus is folded back into the budget.
func GetEffectiveBudget(cfg Config, monthlyProfit float64) float64 {
	if cfg.ProfitMode == ProfitModeSmartReinvest && monthlyProfit >= cfg.MonthlyTargetUSD {
		return cfg.Budget + (monthlyProfit - cfg.MonthlyTargetUSD)
	}
	return cfg.Budget
}

// SizeForLevel returns the base-asset order size for a single grid
// level at the given price, and a non-empty warning if it had to fall
// back to a default size because the configured sizing mode produced
// a non-positive result.
func SizeForLevel(cfg Config, effectiveBudget, price, equity float64) (size float64, warning string) {
	if price <= 0 {
		return FallbackOrderSize, "non-positive price; using fallback size"
	}
	switch cfg.SizingMode {
	case SizingFixedUSD:
		if cfg.FixedUSD > 0 {
			size = cfg.FixedUSD / price
		}
	case SizingCapitalPct:
		if cfg.CapitalPct > 0 && equity > 0 {
			size = equity * cfg.CapitalPct / price
		}
	case SizingBudgetSplit:
		fallthrough
	default:
		if cfg.NumLevels > 0 && effectiveBudget > 0 {
			size = effectiveBudget / float64(cfg.NumLevels) / price
		}
	}
	if size <= 0 {
		size = FallbackOrderSize
		warning = fmt.Sprintf("sizing mode %s produced non-positive size at price %.8f; using fallback %.8f", cfg.SizingMode, price, FallbackOrderSize)
	}
	if size < MinOrderSize {
		size = MinOrderSize
	}
	return size, warning
}

// StagingFloor returns the lowest price an open buy order may sit at
// before it's pruned as out of band: current price pulled down by
// StagingBandPct. Orders below this floor are far enough under the
// live market that they no longer belong on the active grid.
func StagingFloor(current float64, cfg Config) float64 {
	if current <= 0 {
		return 0
	}
	return current * (1 - cfg.StagingBandPct)
}
