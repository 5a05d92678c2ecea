package watcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/execution"
	"folio_pilot/internal/models"
)

const stopLossReason = "AUTOMATED SELL - STOPLOSS TRIGGERED"

// processPortfolio runs one pass over the reconciled positions: refresh
// each price, liquidate anything at or below its stop, and append the
// whole cycle (per-ticker rows plus one TOTAL row) to the ledger as a
// single batch. A failed price fetch produces a NO DATA row for that
// ticker and never aborts the batch. Returns the cycle's total equity.
func (w *Watcher) processPortfolio() (decimal.Decimal, error) {
	now := time.Now()

	w.mu.RLock()
	positions := w.sortedPositionsLocked()
	cash := w.cash
	w.mu.RUnlock()

	rows := make([]models.LedgerRow, 0, len(positions)+1)
	holdingsValue := decimal.Zero

	for _, pos := range positions {
		price, err := w.fetchPrice(pos.Ticker)
		if err != nil {
			w.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("price unavailable, recording NO DATA row")
			rows = append(rows, models.LedgerRow{
				Date:         now,
				Ticker:       pos.Ticker,
				Shares:       pos.Shares,
				CostBasis:    pos.CostBasis,
				StopLoss:     pos.StopLoss,
				CurrentPrice: models.NoData,
				TotalValue:   models.NoData,
				Pnl:          models.NoData,
				Action:       "HOLD",
				CashBalance:  cash,
			})
			continue
		}

		pos.CurrentPrice = price
		pos.MarketValue = price.Mul(pos.Shares)
		pos.UnrealizedPnl = pos.MarketValue.Sub(pos.CostBasis)
		w.updatePosition(pos)

		action := "HOLD"
		if pos.HasStopLoss() && price.LessThanOrEqual(pos.StopLoss) {
			if w.liquidate(pos, price) {
				action = stopLossReason
				// Proceeds move into cash; the position no longer
				// contributes to holdings value.
				cash = cash.Add(pos.MarketValue)
				rows = append(rows, models.LedgerRow{
					Date:         now,
					Ticker:       pos.Ticker,
					Shares:       pos.Shares,
					CostBasis:    pos.CostBasis,
					StopLoss:     pos.StopLoss,
					CurrentPrice: price.StringFixed(2),
					TotalValue:   decimal.Zero.StringFixed(2),
					Pnl:          pos.UnrealizedPnl.StringFixed(2),
					Action:       action,
					CashBalance:  cash,
				})
				continue
			}
			// Liquidation failed; fall through and hold the position.
		}

		holdingsValue = holdingsValue.Add(pos.MarketValue)
		rows = append(rows, models.LedgerRow{
			Date:         now,
			Ticker:       pos.Ticker,
			Shares:       pos.Shares,
			CostBasis:    pos.CostBasis,
			StopLoss:     pos.StopLoss,
			CurrentPrice: price.StringFixed(2),
			TotalValue:   pos.MarketValue.StringFixed(2),
			Pnl:          pos.UnrealizedPnl.StringFixed(2),
			Action:       action,
			CashBalance:  cash,
		})
	}

	totalEquity := cash.Add(holdingsValue)
	rows = append(rows, models.LedgerRow{
		Date:        now,
		Ticker:      models.TotalTicker,
		Shares:      decimal.Zero,
		CostBasis:   decimal.Zero,
		StopLoss:    decimal.Zero,
		CashBalance: cash,
		TotalEquity: totalEquity,
	})

	if err := w.book.AppendCycle(rows); err != nil {
		return decimal.Zero, fmt.Errorf("append cycle: %w", err)
	}

	w.mu.Lock()
	w.cash = cash
	w.mu.Unlock()

	return totalEquity, nil
}

// liquidate sells the full position at market. Returns true when the sell
// went through; on failure the position is kept and the next cycle tries
// again.
func (w *Watcher) liquidate(pos models.Position, price decimal.Decimal) bool {
	w.log.Warn().
		Str("ticker", pos.Ticker).
		Str("price", price.StringFixed(2)).
		Str("stop", pos.StopLoss.StringFixed(2)).
		Msg("stop-loss breached, liquidating")

	shares := pos.Shares.IntPart()
	_, err := w.exec.PlaceSell(pos.Ticker, shares, stopLossReason)
	if err != nil {
		if errors.Is(err, execution.ErrWashTrade) {
			// Conflicting orders were still settling. Not retried within
			// this cycle; the stop remains armed for the next one.
			w.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("stop-loss sell hit wash-trade conflict, deferred")
		} else {
			w.log.Error().Err(err).Str("ticker", pos.Ticker).Msg("stop-loss liquidation failed")
		}
		w.notify(fmt.Sprintf("⚠️ STOP LOSS on %s could not execute: %v", pos.Ticker, err))
		return false
	}

	w.stats.StopLossTriggers.Inc()
	w.notify(fmt.Sprintf("🔻 STOP LOSS TRIGGERED: sold %s %s @ $%s (stop $%s)",
		pos.Shares, pos.Ticker, price.StringFixed(2), pos.StopLoss.StringFixed(2)))

	w.mu.Lock()
	delete(w.positions, pos.Ticker)
	w.mu.Unlock()
	return true
}

// fetchPrice is one gateway-wrapped latest-trade lookup.
func (w *Watcher) fetchPrice(ticker string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := w.gw.Call("get price "+ticker, func() error {
		var callErr error
		price, callErr = w.provider.GetPrice(ticker)
		return callErr
	})
	return price, err
}

// updatePosition writes refreshed derived fields back to the shared map.
func (w *Watcher) updatePosition(pos models.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.positions[pos.Ticker]; ok {
		w.positions[pos.Ticker] = pos
	}
}
