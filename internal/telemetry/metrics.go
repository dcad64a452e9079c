// Package telemetry registers the Prometheus metrics the engine
// updates during operation; cmd/gridbot serves them at /metrics.
//
//   - gridbot_ticks_total{market}                – ticks processed
//   - gridbot_fills_total{market,side}           – fills processed
//   - gridbot_orders_pruned_total{market,reason} – grid-level prunes
//   - gridbot_open_orders{market}                – current open-order gauge
//   - gridbot_anchor_price{market}               – current anchor price gauge
//   - gridbot_monthly_profit_usd{market}         – bot-wide current month realized profit, labeled with the market whose fill last changed it
//   - gridbot_emergency_stops_total              – emergency-stop invocations
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_ticks_total", Help: "Engine ticks processed per market."},
		[]string{"market"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_fills_total", Help: "Fills processed per market and side."},
		[]string{"market", "side"},
	)

	ordersPrunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_orders_pruned_total", Help: "Grid orders pruned per market and reason."},
		[]string{"market", "reason"},
	)

	openOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gridbot_open_orders", Help: "Current open grid orders per market."},
		[]string{"market"},
	)

	anchorPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gridbot_anchor_price", Help: "Current anchor price per market."},
		[]string{"market"},
	)

	monthlyProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gridbot_monthly_profit_usd", Help: "Bot-wide current month realized profit in USD, labeled with the market whose fill last updated it."},
		[]string{"market"},
	)

	emergencyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gridbot_emergency_stops_total", Help: "Number of emergency-stop invocations."},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, fillsTotal, ordersPrunedTotal)
	prometheus.MustRegister(openOrders, anchorPrice, monthlyProfit)
	prometheus.MustRegister(emergencyStopsTotal)
}

func IncTick(market string)                     { ticksTotal.WithLabelValues(market).Inc() }
func IncFill(market, side string)                { fillsTotal.WithLabelValues(market, side).Inc() }
func IncPrune(market, reason string)             { ordersPrunedTotal.WithLabelValues(market, reason).Inc() }
func SetOpenOrders(market string, n int)         { openOrders.WithLabelValues(market).Set(float64(n)) }
func SetAnchorPrice(market string, price float64) { anchorPrice.WithLabelValues(market).Set(price) }
func SetMonthlyProfit(market string, usd float64) { monthlyProfit.WithLabelValues(market).Set(usd) }
func IncEmergencyStop()                          { emergencyStopsTotal.Inc() }
