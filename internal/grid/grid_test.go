package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAnchor(t *testing.T) {
	cases := []struct {
		name           string
		currentAnchor  float64
		price          float64
		wantAnchor     float64
	}{
		{"new high moves anchor up", 100, 105, 105},
		{"lower price leaves anchor unchanged", 100, 95, 100},
		{"equal price leaves anchor unchanged", 100, 100, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.wantAnchor, CalculateAnchor(c.currentAnchor, c.price))
		})
	}
}

func TestCalculateAnchorMonotone(t *testing.T) {
	anchor := 100.0
	prices := []float64{98, 110, 105, 120, 90, 120}
	for _, p := range prices {
		next := CalculateAnchor(anchor, p)
		assert.GreaterOrEqual(t, next, anchor)
		anchor = next
	}
	assert.Equal(t, 120.0, anchor)
}

func TestCalculateBuyLevels(t *testing.T) {
	cfg := Config{GridStep: 0.01, StagingBandPct: 0.05, NumLevels: 50}
	levels := CalculateBuyLevels(100, 100, cfg)
	assert.NotEmpty(t, levels)
	// Each level should be strictly below the previous one, below the
	// current price, and no lower than the staging band floor.
	floor := 100 * (1 - cfg.StagingBandPct)
	prev := 100.0
	for _, lvl := range levels {
		assert.Less(t, lvl, prev)
		assert.Less(t, lvl, 100.0)
		assert.Greater(t, lvl, floor)
		prev = lvl
	}
}

func TestCalculateBuyLevelsInvalid(t *testing.T) {
	cfg := Config{GridStep: 0.01, StagingBandPct: 0.05, NumLevels: 5}
	assert.Nil(t, CalculateBuyLevels(0, 100, cfg))
	assert.Nil(t, CalculateBuyLevels(100, 0, cfg))
}

func TestCalculateBuyLevelsTracksDroppingPrice(t *testing.T) {
	// Anchor stuck at 50000 from a past high; ticker has since dropped
	// to 30000. New levels must cluster just under 30000, not keep
	// generating off the stale anchor.
	cfg := Config{GridStep: 0.0033, StagingBandPct: 0.05, NumLevels: 490}
	levels := CalculateBuyLevels(50000, 30000, cfg)
	assert.NotEmpty(t, levels)
	floor := 30000 * (1 - cfg.StagingBandPct)
	for _, lvl := range levels {
		assert.Less(t, lvl, 30000.0)
		assert.Greater(t, lvl, floor)
	}
}

func TestCalculateBuyLevelsTopBufferPullsGridTopDown(t *testing.T) {
	cfg := Config{GridStep: 0.01, StagingBandPct: 0.05, GridTopBufferPct: 0.1, NumLevels: 50}
	buffered := CalculateBuyLevels(100, 100, cfg)
	cfg.GridTopBufferPct = 0
	unbuffered := CalculateBuyLevels(100, 100, cfg)
	require.NotEmpty(t, buffered)
	require.NotEmpty(t, unbuffered)
	assert.Less(t, buffered[0], unbuffered[0], "a top buffer should pull the first level down")
}

func TestGetSellPrice(t *testing.T) {
	cfg := Config{ProfitMode: ProfitModeStep, GridStep: 0.02}
	assert.InDelta(t, 102.0, GetSellPrice(100, cfg), 1e-9)

	cfg.ProfitMode = ProfitModeCustom
	cfg.CustomProfitPct = 0.05
	assert.InDelta(t, 105.0, GetSellPrice(100, cfg), 1e-9)

	cfg.ProfitMode = ProfitModeStepReinvest
	assert.InDelta(t, 102.0, GetSellPrice(100, cfg), 1e-9)

	cfg.ProfitMode = ProfitModeSmartReinvest
	assert.InDelta(t, 102.0, GetSellPrice(100, cfg), 1e-9)
}

func TestTolerance(t *testing.T) {
	assert.InDelta(t, 0.002, Tolerance(0.01), 1e-12)
	assert.Equal(t, 0.01, Tolerance(0))
	assert.Equal(t, 0.01, Tolerance(-1))
}

func TestShouldPrune(t *testing.T) {
	levels := []float64{30000, 29500, 29000}
	tol := Tolerance(0.0033) // ~0.00066, a fraction of the level price

	// Matches a live level and sits inside the staging band: kept.
	pruned, reason := ShouldPrune(30000, levels, tol, 30000, 0.05)
	assert.False(t, pruned)
	assert.Empty(t, reason)

	// No level anywhere near it, regardless of the band: ghost.
	pruned, reason = ShouldPrune(15000, levels, tol, 30000, 0.05)
	assert.True(t, pruned)
	assert.Equal(t, "Ghost Order (Settings Changed)", reason)

	// Matches a level, but the market has climbed so far above it that
	// the order now sits below the staging floor: out of band.
	pruned, reason = ShouldPrune(29000, levels, tol, 60000, 0.05)
	assert.True(t, pruned)
	assert.Equal(t, "Out of Band", reason)
}

func TestIsValidLevel(t *testing.T) {
	levels := []float64{30000, 29500}
	tol := Tolerance(0.0033)
	assert.True(t, IsValidLevel(30005, levels, tol))
	assert.False(t, IsValidLevel(15000, levels, tol))
}

func TestGetEffectiveBudget(t *testing.T) {
	cfg := Config{ProfitMode: ProfitModeStep, Budget: 1000, MonthlyTargetUSD: 50}
	assert.Equal(t, 1000.0, GetEffectiveBudget(cfg, 0))

	cfg.ProfitMode = ProfitModeSmartReinvest
	assert.Equal(t, 1000.0, GetEffectiveBudget(cfg, 10)) // below target, no reinvest
	assert.Equal(t, 1020.0, GetEffectiveBudget(cfg, 70)) // 70-50=20 surplus folded in
}

func TestSizeForLevel(t *testing.T) {
	cfg := Config{SizingMode: SizingBudgetSplit, NumLevels: 4}
	size, warn := SizeForLevel(cfg, 1000, 100, 0)
	assert.Empty(t, warn)
	assert.InDelta(t, 2.5, size, 1e-9)

	cfg = Config{SizingMode: SizingFixedUSD, FixedUSD: 50}
	size, warn = SizeForLevel(cfg, 0, 100, 0)
	assert.Empty(t, warn)
	assert.InDelta(t, 0.5, size, 1e-9)

	cfg = Config{SizingMode: SizingCapitalPct, CapitalPct: 0.1}
	size, warn = SizeForLevel(cfg, 0, 100, 10000)
	assert.Empty(t, warn)
	assert.InDelta(t, 10.0, size, 1e-9)

	cfg = Config{SizingMode: SizingFixedUSD, FixedUSD: 0}
	size, warn = SizeForLevel(cfg, 0, 100, 0)
	assert.NotEmpty(t, warn)
	assert.Equal(t, FallbackOrderSize, size)

	// size below floor gets bumped up to MinOrderSize
	cfg = Config{SizingMode: SizingBudgetSplit, NumLevels: 1000000}
	size, _ = SizeForLevel(cfg, 1, 100, 0)
	assert.Equal(t, MinOrderSize, size)
}

func TestStagingFloor(t *testing.T) {
	cfg := Config{StagingBandPct: 0.05}
	assert.InDelta(t, 95.0, StagingFloor(100, cfg), 1e-9)
	assert.Equal(t, 0.0, StagingFloor(0, cfg))
}
