package ai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/models"
)

// Action is the closed set of advisory verbs. Anything else is rejected at
// decode time, never coerced.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is one recommendation from the advisory service. Required fields
// depend on the action; Validate enforces the per-variant rules before any
// decision reaches the execution engine.
type Decision struct {
	Action    Action          `json:"action"`
	Ticker    string          `json:"ticker,omitempty"`
	Shares    int64           `json:"shares,omitempty"`
	StopLoss  decimal.Decimal `json:"stop_loss,omitempty"`
	Reasoning string          `json:"reasoning"`
}

// Validate enforces the decision schema. The system trades whole shares
// only, so BUY/SELL quantities must be positive integers.
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionBuy:
		if d.Ticker == "" {
			return fmt.Errorf("BUY decision missing ticker")
		}
		if d.Shares <= 0 {
			return fmt.Errorf("BUY %s: shares must be > 0, got %d", d.Ticker, d.Shares)
		}
		if d.StopLoss.IsNegative() {
			return fmt.Errorf("BUY %s: stop loss must be >= 0, got %s", d.Ticker, d.StopLoss)
		}
	case ActionSell:
		if d.Ticker == "" {
			return fmt.Errorf("SELL decision missing ticker")
		}
		if d.Shares <= 0 {
			return fmt.Errorf("SELL %s: shares must be > 0, got %d", d.Ticker, d.Shares)
		}
	case ActionHold:
		// No required fields beyond the action itself.
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	return nil
}

// ParseDecisions decodes the advisory payload entry by entry, discarding
// malformed entries instead of rejecting the whole batch. Returns the valid
// decisions and the number discarded.
func ParseDecisions(payload []byte) ([]Decision, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, 0, fmt.Errorf("advisory payload is not a JSON array: %w", err)
	}

	var decisions []Decision
	discarded := 0
	for _, entry := range raw {
		dec := json.NewDecoder(bytes.NewReader(entry))
		dec.DisallowUnknownFields()

		var d Decision
		if err := dec.Decode(&d); err != nil {
			discarded++
			continue
		}
		if err := d.Validate(); err != nil {
			discarded++
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, discarded, nil
}

// PortfolioSnapshot is the serialized state sent to the advisory service.
type PortfolioSnapshot struct {
	Timestamp    string            `json:"timestamp"`
	MarketStatus string            `json:"market_status"`
	Cash         decimal.Decimal   `json:"cash"`
	BuyingPower  decimal.Decimal   `json:"buying_power"`
	Equity       decimal.Decimal   `json:"equity"`
	Positions    []models.Position `json:"positions"`
	Performance  any               `json:"performance,omitempty"`
	MarketData   any               `json:"market_data,omitempty"`
}
