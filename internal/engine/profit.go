package engine

import (
	"time"

	"github.com/chidi150c/gridbot/internal/storage"
	"github.com/chidi150c/gridbot/internal/telemetry"
)

// profitTrackerKey is the single bot-wide BotState key name used by
// the original engine: one tracker across all markets, not one per
// market.
const profitTrackerKey = "profit_tracker"

type profitTracker struct {
	CurrentMonthProfitUSD float64 `json:"current_month_profit_usd"`
	LastProfitResetMonth  int     `json:"last_profit_reset_month"`
}

func (e *Engine) getProfitTracker() (profitTracker, error) {
	var pt profitTracker
	err := e.db.GetBotState(profitTrackerKey, &pt)
	if err != nil {
		if err == storage.ErrNotFound {
			return profitTracker{LastProfitResetMonth: int(time.Now().Month())}, nil
		}
		return profitTracker{}, err
	}
	return pt, nil
}

// CheckMonthlyReset zeroes the running monthly-profit counter the
// first time it observes a new calendar month, matching
// check_monthly_reset's behavior in the reference engine exactly.
func (e *Engine) CheckMonthlyReset() error {
	pt, err := e.getProfitTracker()
	if err != nil {
		return err
	}
	currentMonth := int(time.Now().Month())
	if pt.LastProfitResetMonth != currentMonth {
		pt.CurrentMonthProfitUSD = 0
		pt.LastProfitResetMonth = currentMonth
		return e.db.SetBotState(profitTrackerKey, pt)
	}
	return nil
}

// AddProfit adds realized pnl to the running monthly total.
func (e *Engine) AddProfit(marketID string, pnlUSD float64) error {
	pt, err := e.getProfitTracker()
	if err != nil {
		return err
	}
	pt.CurrentMonthProfitUSD += pnlUSD
	if err := e.db.SetBotState(profitTrackerKey, pt); err != nil {
		return err
	}
	telemetry.SetMonthlyProfit(marketID, pt.CurrentMonthProfitUSD)
	return nil
}

// CurrentMonthlyProfit returns the running monthly realized profit.
func (e *Engine) CurrentMonthlyProfit() (float64, error) {
	pt, err := e.getProfitTracker()
	if err != nil {
		return 0, err
	}
	return pt.CurrentMonthProfitUSD, nil
}
