package watcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/models"
)

// syncState rebuilds the in-memory portfolio from the two sources of
// truth. The broker is authoritative for share quantity, prices and cost
// basis; the local ledger is authoritative for stop-loss levels. Positions
// the broker holds but the ledger has never seen enter with stop 0.
func (w *Watcher) syncState() (*models.Account, error) {
	var brokerPositions []models.BrokerPosition
	err := w.gw.Call("list positions", func() error {
		var callErr error
		brokerPositions, callErr = w.provider.ListPositions()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var account *models.Account
	err = w.gw.Call("get account", func() error {
		var callErr error
		account, callErr = w.provider.GetAccount()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	stops, err := w.book.StopLosses()
	if err != nil {
		return nil, fmt.Errorf("read ledger stops: %w", err)
	}

	w.mu.Lock()
	pending := w.pendingStops
	w.pendingStops = make(map[string]decimal.Decimal)
	w.mu.Unlock()

	reconciled := make(map[string]models.Position, len(brokerPositions))
	for _, bp := range brokerPositions {
		stop := stops[bp.Symbol] // zero when the ledger has no stop
		if ps, ok := pending[bp.Symbol]; ok {
			// Stop from an advisory buy that postdates the last ledger
			// row. It becomes durable with this cycle's append.
			stop = ps
		}
		pos := models.Position{
			Ticker:        bp.Symbol,
			Shares:        bp.Qty,
			CostBasis:     bp.CostBasis,
			BuyPrice:      bp.AvgEntryPrice,
			StopLoss:      stop,
			CurrentPrice:  bp.CurrentPrice,
			MarketValue:   bp.MarketValue,
			UnrealizedPnl: bp.UnrealizedPL,
		}
		if !bp.CostBasis.IsZero() {
			pos.UnrealizedPnlPercent = bp.UnrealizedPL.Div(bp.CostBasis).Mul(decimal.NewFromInt(100))
		}
		reconciled[bp.Symbol] = pos
	}

	// Tickers present only in the ledger are gone from the broker (sold
	// externally or liquidated by a stop order). They drop out of the
	// in-memory set; the ledger rows remain as history.
	for ticker := range stops {
		if _, held := reconciled[ticker]; !held {
			w.log.Debug().Str("ticker", ticker).Msg("ledger stop with no broker position, dropped")
		}
	}

	w.mu.Lock()
	w.positions = reconciled
	w.cash = account.Cash
	w.mu.Unlock()

	w.log.Info().
		Int("positions", len(reconciled)).
		Str("cash", account.Cash.StringFixed(2)).
		Msg("portfolio reconciled with broker")
	return account, nil
}
