package ai

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Decision
		wantErr bool
	}{
		{"valid buy", Decision{Action: ActionBuy, Ticker: "AAPL", Shares: 5, StopLoss: decimal.NewFromInt(140)}, false},
		{"buy without stop", Decision{Action: ActionBuy, Ticker: "AAPL", Shares: 5}, false},
		{"buy missing ticker", Decision{Action: ActionBuy, Shares: 5}, true},
		{"buy zero shares", Decision{Action: ActionBuy, Ticker: "AAPL"}, true},
		{"buy negative stop", Decision{Action: ActionBuy, Ticker: "AAPL", Shares: 1, StopLoss: decimal.NewFromInt(-1)}, true},
		{"valid sell", Decision{Action: ActionSell, Ticker: "MSFT", Shares: 3}, false},
		{"sell missing shares", Decision{Action: ActionSell, Ticker: "MSFT"}, true},
		{"hold", Decision{Action: ActionHold, Reasoning: "no edge"}, false},
		{"unknown action", Decision{Action: "SHORT", Ticker: "GME", Shares: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDecisions_DiscardsMalformedEntries(t *testing.T) {
	payload := []byte(`[
		{"action": "BUY", "ticker": "AAPL", "shares": 5, "stop_loss": "140.00", "reasoning": "breakout"},
		{"action": "SHORT", "ticker": "GME", "shares": 10, "reasoning": "not a supported verb"},
		{"action": "SELL", "ticker": "MSFT", "reasoning": "missing shares"},
		{"action": "HOLD", "reasoning": "steady"},
		{"action": "BUY", "ticker": "TSLA", "shares": 2, "leverage": 10, "reasoning": "unknown field"}
	]`)

	decisions, discarded, err := ParseDecisions(payload)
	require.NoError(t, err)

	assert.Equal(t, 3, discarded)
	require.Len(t, decisions, 2)
	assert.Equal(t, ActionBuy, decisions[0].Action)
	assert.Equal(t, "AAPL", decisions[0].Ticker)
	assert.True(t, decisions[0].StopLoss.Equal(decimal.NewFromInt(140)))
	assert.Equal(t, ActionHold, decisions[1].Action)
}

func TestParseDecisions_NotAnArray(t *testing.T) {
	_, _, err := ParseDecisions([]byte(`{"action": "BUY"}`))
	assert.Error(t, err)
}

func TestParseDecisions_EmptyArray(t *testing.T) {
	decisions, discarded, err := ParseDecisions([]byte(`[]`))
	require.NoError(t, err)
	assert.Zero(t, discarded)
	assert.Empty(t, decisions)
}
