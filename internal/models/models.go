package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one held security, reconciled from two sources of truth:
// the broker is authoritative for shares/price/cost basis, the local
// ledger is authoritative for the stop-loss level.
type Position struct {
	Ticker    string          `json:"ticker"`
	Shares    decimal.Decimal `json:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	BuyPrice  decimal.Decimal `json:"buy_price"` // average entry price = cost basis / shares
	StopLoss  decimal.Decimal `json:"stop_loss"` // zero means no stop configured

	// Derived each refresh, never persisted.
	CurrentPrice         decimal.Decimal `json:"current_price"`
	MarketValue          decimal.Decimal `json:"market_value"`
	UnrealizedPnl        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnlPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// HasStopLoss reports whether a protective stop is configured.
func (p Position) HasStopLoss() bool {
	return p.StopLoss.GreaterThan(decimal.Zero)
}

// TotalTicker marks the per-cycle summary row in the portfolio ledger.
const TotalTicker = "TOTAL"

// NoData is the sentinel written to ledger fields when a per-symbol data
// fetch failed. One bad symbol must not abort the cycle.
const NoData = "NO DATA"

// LedgerRow is one line of the append-only portfolio ledger: one row per
// ticker per processing cycle plus one TOTAL row per cycle.
type LedgerRow struct {
	Date         time.Time
	Ticker       string
	Shares       decimal.Decimal
	CostBasis    decimal.Decimal
	StopLoss     decimal.Decimal
	CurrentPrice string // decimal string, or NoData
	TotalValue   string
	Pnl          string
	Action       string
	CashBalance  decimal.Decimal
	TotalEquity  decimal.Decimal // populated on the TOTAL row only
}

// IsTotal reports whether this is the per-cycle summary row.
func (r LedgerRow) IsTotal() bool {
	return r.Ticker == TotalTicker
}

// TradeLogEntry is one line of the append-only trade log, written only on
// confirmed order placement. The file is the audit trail; rows are never
// mutated or deleted.
type TradeLogEntry struct {
	Date         time.Time
	Ticker       string
	SharesBought decimal.Decimal
	BuyPrice     decimal.Decimal
	SharesSold   decimal.Decimal
	SellPrice    decimal.Decimal
	CostBasis    decimal.Decimal
	Pnl          decimal.Decimal
	Reason       string
}
