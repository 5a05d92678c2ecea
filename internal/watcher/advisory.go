package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/ai"
	"folio_pilot/internal/decision"
	"folio_pilot/internal/market"
	"folio_pilot/internal/metrics"
	"folio_pilot/internal/models"
)

// advisoryBarDays is how much daily history backs the indicator context.
const advisoryBarDays = 60

const systemInstruction = `You are a portfolio maintenance advisor for a long-only US equity account.
Review the portfolio snapshot and respond with a JSON array of decisions.
Each decision is an object with fields: action ("BUY", "SELL" or "HOLD"),
ticker, shares (whole number), stop_loss (for BUY only, 0 to skip) and
reasoning. Trade whole shares only. Respond with the JSON array and
nothing else.`

// runAdvisory consults the AI advisor for the reconciled portfolio. Skipped
// when the advisor is not configured, outside market hours (and the
// pre-open hour), or when every held ticker has a cached decision for the
// current portfolio hash.
func (w *Watcher) runAdvisory(account *models.Account, report metrics.Report) {
	if !w.advisor.Enabled() {
		return
	}
	clock := w.marketClock()
	if clock == nil {
		return
	}
	if !clock.IsOpen && time.Until(clock.NextOpen) > time.Hour {
		w.log.Debug().Msg("market closed, advisory skipped")
		return
	}

	w.mu.RLock()
	positions := w.sortedPositionsLocked()
	cash := w.cash
	w.mu.RUnlock()

	hash := decision.HashPortfolio(positions, cash)

	misses := 0
	for _, pos := range positions {
		if _, hit := w.cache.Get(pos.Ticker, hash); hit {
			w.stats.CacheLookups.WithLabelValues("hit").Inc()
			continue
		}
		w.stats.CacheLookups.WithLabelValues("miss").Inc()
		misses++
	}
	if len(positions) > 0 && misses == 0 {
		w.log.Info().Msg("portfolio unchanged since last analysis, advisory skipped")
		return
	}

	status := "PRE-OPEN"
	if clock.IsOpen {
		status = "OPEN"
	}
	snapshot := w.buildSnapshot(account, positions, cash, report, status)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	decisions, discarded, err := w.advisor.AnalyzePortfolio(ctx, systemInstruction, snapshot)
	if err != nil {
		w.log.Error().Err(err).Msg("advisory analysis failed")
		w.notify(fmt.Sprintf("⚠️ AI analysis failed: %v", err))
		return
	}
	if discarded > 0 {
		w.log.Warn().Int("discarded", discarded).Msg("malformed advisory entries dropped")
	}

	decided := make(map[string]bool, len(decisions))
	for i := range decisions {
		d := decisions[i]
		w.executeDecision(d)
		if d.Ticker != "" {
			w.cache.Put(d.Ticker, &d, hash)
			decided[d.Ticker] = true
		}
	}

	// Held tickers the advisor said nothing about get a "no action" entry,
	// so an unchanged portfolio does not trigger re-analysis next cycle.
	for _, pos := range positions {
		if !decided[pos.Ticker] {
			w.cache.Put(pos.Ticker, nil, hash)
		}
	}
}

// marketClock is one gateway-wrapped clock lookup. Nil when unavailable;
// the advisory pass is then skipped rather than run blind.
func (w *Watcher) marketClock() *models.Clock {
	var clock *models.Clock
	err := w.gw.Call("get clock", func() error {
		var callErr error
		clock, callErr = w.provider.GetClock()
		return callErr
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("market clock unavailable, advisory skipped")
		return nil
	}
	return clock
}

// buildSnapshot assembles the advisory payload: account figures, reconciled
// positions, the latest performance report, and per-ticker technical
// context from daily bars.
func (w *Watcher) buildSnapshot(account *models.Account, positions []models.Position, cash decimal.Decimal, report metrics.Report, status string) ai.PortfolioSnapshot {
	var indicators []market.IndicatorContext
	for _, pos := range positions {
		var bars []models.Bar
		err := w.gw.Call("get bars "+pos.Ticker, func() error {
			var callErr error
			bars, callErr = w.provider.GetBars(pos.Ticker, advisoryBarDays)
			return callErr
		})
		if err != nil {
			w.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("bar history unavailable, indicator context omitted")
			continue
		}
		if ctx, ok := market.Indicators(pos.Ticker, bars); ok {
			indicators = append(indicators, ctx)
		}
	}

	return ai.PortfolioSnapshot{
		Timestamp:    time.Now().Format(time.RFC3339),
		MarketStatus: status,
		Cash:         cash,
		BuyingPower:  account.BuyingPower,
		Equity:       account.Equity,
		Positions:    positions,
		Performance:  report,
		MarketData:   indicators,
	}
}

// executeDecision routes a validated advisory decision to the execution
// engine. Failures are logged and notified; one bad decision never stops
// the rest of the batch.
func (w *Watcher) executeDecision(d ai.Decision) {
	switch d.Action {
	case ai.ActionBuy:
		w.log.Info().Str("ticker", d.Ticker).Int64("shares", d.Shares).Str("reasoning", d.Reasoning).Msg("executing advisory buy")
		if _, err := w.exec.PlaceBuy(d.Ticker, d.Shares, d.StopLoss); err != nil {
			w.log.Error().Err(err).Str("ticker", d.Ticker).Msg("advisory buy failed")
			w.notify(fmt.Sprintf("⚠️ Advisory BUY %d %s failed: %v", d.Shares, d.Ticker, err))
			return
		}
		if d.StopLoss.GreaterThan(decimal.Zero) {
			w.mu.Lock()
			w.pendingStops[d.Ticker] = d.StopLoss
			w.mu.Unlock()
		}
		w.notify(fmt.Sprintf("✅ Advisory BUY: %d %s (stop $%s)\n_%s_", d.Shares, d.Ticker, d.StopLoss.StringFixed(2), d.Reasoning))
	case ai.ActionSell:
		w.log.Info().Str("ticker", d.Ticker).Int64("shares", d.Shares).Str("reasoning", d.Reasoning).Msg("executing advisory sell")
		if _, err := w.exec.PlaceSell(d.Ticker, d.Shares, "AI ADVISORY SELL"); err != nil {
			w.log.Error().Err(err).Str("ticker", d.Ticker).Msg("advisory sell failed")
			w.notify(fmt.Sprintf("⚠️ Advisory SELL %d %s failed: %v", d.Shares, d.Ticker, err))
			return
		}
		w.notify(fmt.Sprintf("✅ Advisory SELL: %d %s\n_%s_", d.Shares, d.Ticker, d.Reasoning))
	case ai.ActionHold:
		w.log.Debug().Str("ticker", d.Ticker).Str("reasoning", d.Reasoning).Msg("advisory hold")
	}
}
