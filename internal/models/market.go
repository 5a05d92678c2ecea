package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a generic order as reported by the broker.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	Type           string          `json:"type"`   // market, stop, limit
	Side           string          `json:"side"`   // buy, sell
	Status         string          `json:"status"` // new, filled, canceled, rejected...
	StopPrice      decimal.Decimal `json:"stop_price"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Account represents the broker-reported account state.
type Account struct {
	Cash        decimal.Decimal
	BuyingPower decimal.Decimal
	Equity      decimal.Decimal
	LastEquity  decimal.Decimal
}

// Quote is a market-data snapshot for one symbol.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	PreviousClose decimal.Decimal
	Volume        int64
	Timestamp     time.Time
}

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Clock is the market open/close status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// BrokerPosition is a position exactly as the broker reports it, before
// reconciliation with locally tracked stop-loss levels.
type BrokerPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}
