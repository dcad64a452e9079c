package engine

import (
	"fmt"
	"strconv"

	"github.com/chidi150c/gridbot/internal/grid"
)

// stagingBandDepthPctAlias is the legacy key name accepted in place of
// "staging_band_pct" when updating a market's configuration, so
// existing deployments that still send the old name keep working.
const stagingBandDepthPctAlias = "staging_band_depth_pct"

// UpdateConfig applies a partial set of key/value overrides to a
// market's grid configuration and persists the result. Unknown keys
// are ignored; a malformed value aborts the whole update with an error
// naming that key, and nothing is persisted.
func (e *Engine) UpdateConfig(marketID string, updates map[string]string) error {
	market, err := e.db.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("update config %s: load market: %w", marketID, err)
	}

	if v, ok := updates[stagingBandDepthPctAlias]; ok {
		if _, taken := updates["staging_band_pct"]; !taken {
			updates["staging_band_pct"] = v
		}
	}

	cfg := market.Config
	for key, raw := range updates {
		if key == stagingBandDepthPctAlias {
			continue
		}
		if err := applyConfigField(&cfg, key, raw); err != nil {
			return fmt.Errorf("update config %s: %w", marketID, err)
		}
	}

	market.Config = cfg
	if err := e.db.UpsertMarket(market); err != nil {
		return fmt.Errorf("update config %s: persist: %w", marketID, err)
	}
	_ = e.db.InsertAuditLog(marketID, "config_updated", fmt.Sprintf("%v", updates))
	return nil
}

func applyConfigField(cfg *grid.Config, key, raw string) error {
	switch key {
	case "grid_step":
		return setFloat(&cfg.GridStep, key, raw)
	case "num_levels":
		return setInt(&cfg.NumLevels, key, raw)
	case "profit_mode":
		cfg.ProfitMode = grid.ProfitMode(raw)
	case "custom_profit_pct":
		return setFloat(&cfg.CustomProfitPct, key, raw)
	case "sizing_mode":
		cfg.SizingMode = grid.SizingMode(raw)
	case "budget_usd":
		return setFloat(&cfg.Budget, key, raw)
	case "fixed_usd":
		return setFloat(&cfg.FixedUSD, key, raw)
	case "capital_pct":
		return setFloat(&cfg.CapitalPct, key, raw)
	case "staging_band_pct":
		return setFloat(&cfg.StagingBandPct, key, raw)
	case "grid_top_buffer_pct":
		return setFloat(&cfg.GridTopBufferPct, key, raw)
	case "monthly_target_usd":
		return setFloat(&cfg.MonthlyTargetUSD, key, raw)
	}
	return nil
}

func setFloat(dst *float64, key, raw string) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	*dst = v
	return nil
}

func setInt(dst *int, key, raw string) error {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	*dst = v
	return nil
}
