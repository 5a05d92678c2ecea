// Package metrics derives risk and performance statistics from the equity
// history recorded in the portfolio ledger's TOTAL rows.
package metrics

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"folio_pilot/internal/models"
)

// tradingDaysPerYear converts the annual risk-free rate to a daily rate.
const tradingDaysPerYear = 252

// Report is one set of computed performance figures.
//
// When Source is "snapshot" the advanced ratios are structurally zero:
// they are undefined without a time series. Callers must not read a zero
// Sharpe as "no risk".
type Report struct {
	Equity         float64 `json:"equity"`
	TotalReturn    float64 `json:"total_return"`
	AvgDailyReturn float64 `json:"avg_daily_return"`
	StdDev         float64 `json:"std_dev"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	WinRate        float64 `json:"win_rate"`
	Source         string  `json:"source"` // "history" or "snapshot"
}

// Engine computes Reports. It is stateless between calls; the ledger's
// equity history is the only input that grows.
type Engine struct {
	annualRiskFree float64
	divergence     float64 // absolute dollars before the broker figure wins
	log            zerolog.Logger
}

// New returns a metrics engine.
func New(annualRiskFreeRate, equityDivergenceThreshold float64, log zerolog.Logger) *Engine {
	return &Engine{
		annualRiskFree: annualRiskFreeRate,
		divergence:     equityDivergenceThreshold,
		log:            log.With().Str("component", "metrics").Logger(),
	}
}

// FromHistory computes the full report from consecutive TOTAL equities.
// Returns false when fewer than two points exist; callers then fall back
// to Snapshot.
func (e *Engine) FromHistory(history []float64) (Report, bool) {
	if len(history) < 2 {
		return Report{}, false
	}

	first, last := history[0], history[len(history)-1]
	returns := dailyReturns(history)

	mean := stat.Mean(returns, nil)
	// Population standard deviation: second moment about the mean.
	stdDev := math.Sqrt(stat.MomentAbout(2, returns, mean, nil))

	dailyRiskFree := e.annualRiskFree / tradingDaysPerYear
	sharpe := 0.0
	if stdDev > 0 {
		sharpe = (mean - dailyRiskFree) / stdDev
	}

	sortino := 0.0
	if downside := downsideDeviation(returns); downside > 0 {
		sortino = (mean - dailyRiskFree) / downside
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}

	return Report{
		Equity:         last,
		TotalReturn:    (last - first) / first,
		AvgDailyReturn: mean,
		StdDev:         stdDev,
		SharpeRatio:    sharpe,
		SortinoRatio:   sortino,
		MaxDrawdown:    maxDrawdown(history),
		WinRate:        float64(wins) / float64(len(returns)),
		Source:         "history",
	}, true
}

// Snapshot is the insufficient-history fallback: equity is computed
// directly as cash plus position market values. When that figure diverges
// from the broker-reported equity by more than the absolute threshold the
// broker figure wins, since it reflects settlement nuances the local sum
// may miss. At exactly the threshold the local figure is kept.
func (e *Engine) Snapshot(cash decimal.Decimal, positions []models.Position, brokerEquity decimal.Decimal) Report {
	local := cash
	for _, p := range positions {
		local = local.Add(p.MarketValue)
	}

	equity := local.InexactFloat64()
	diff := local.Sub(brokerEquity).Abs().InexactFloat64()
	if diff > e.divergence {
		e.log.Warn().
			Float64("local", equity).
			Float64("broker", brokerEquity.InexactFloat64()).
			Float64("divergence", diff).
			Msg("local equity diverges from broker, trusting broker figure")
		equity = brokerEquity.InexactFloat64()
	}

	return Report{Equity: equity, Source: "snapshot"}
}

func dailyReturns(history []float64) []float64 {
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		if history[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (history[i]-history[i-1])/history[i-1])
	}
	return returns
}

// downsideDeviation is the population standard deviation of only the
// negative returns. Zero when no negative returns exist.
func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	mean := stat.Mean(negative, nil)
	return math.Sqrt(stat.MomentAbout(2, negative, mean, nil))
}

// maxDrawdown is the largest percentage decline from a running peak.
func maxDrawdown(history []float64) float64 {
	peak := history[0]
	maxDD := 0.0
	for _, equity := range history {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
