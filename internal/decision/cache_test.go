package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio_pilot/internal/ai"
	"folio_pilot/internal/models"
)

func testPortfolio() ([]models.Position, decimal.Decimal) {
	positions := []models.Position{
		{Ticker: "AAPL", Shares: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromFloat(150.00)},
		{Ticker: "MSFT", Shares: decimal.NewFromInt(5), CurrentPrice: decimal.NewFromFloat(300.00)},
	}
	return positions, decimal.NewFromFloat(1000.00)
}

func TestCache_HitAfterPut(t *testing.T) {
	positions, cash := testPortfolio()
	hash := HashPortfolio(positions, cash)

	c := New(15 * time.Minute)
	d := &ai.Decision{Action: ai.ActionBuy, Ticker: "AAPL", Shares: 2}
	c.Put("AAPL", d, hash)

	got, ok := c.Get("AAPL", hash)
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestCache_NilDecisionIsAHit(t *testing.T) {
	positions, cash := testPortfolio()
	hash := HashPortfolio(positions, cash)

	c := New(15 * time.Minute)
	c.Put("AAPL", nil, hash)

	got, ok := c.Get("AAPL", hash)
	require.True(t, ok, "cached 'no action' must be distinct from 'not analyzed'")
	assert.Nil(t, got)
}

func TestCache_PortfolioMutationForcesMiss(t *testing.T) {
	positions, cash := testPortfolio()
	hash := HashPortfolio(positions, cash)

	c := New(15 * time.Minute)
	c.Put("AAPL", &ai.Decision{Action: ai.ActionHold}, hash)

	// Share count change.
	mutated := make([]models.Position, len(positions))
	copy(mutated, positions)
	mutated[0].Shares = decimal.NewFromInt(11)
	_, ok := c.Get("AAPL", HashPortfolio(mutated, cash))
	assert.False(t, ok)

	// Price change.
	copy(mutated, positions)
	mutated[1].CurrentPrice = decimal.NewFromFloat(300.01)
	_, ok = c.Get("AAPL", HashPortfolio(mutated, cash))
	assert.False(t, ok)

	// Cash change.
	_, ok = c.Get("AAPL", HashPortfolio(positions, cash.Add(decimal.NewFromFloat(0.01))))
	assert.False(t, ok)

	// Unchanged state still hits.
	_, ok = c.Get("AAPL", HashPortfolio(positions, cash))
	assert.True(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	positions, cash := testPortfolio()
	hash := HashPortfolio(positions, cash)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := New(15 * time.Minute).WithClock(clock)

	c.Put("AAPL", &ai.Decision{Action: ai.ActionHold}, hash)

	now = now.Add(14 * time.Minute)
	_, ok := c.Get("AAPL", hash)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("AAPL", hash)
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entries are purged, not just hidden")
}

func TestCache_PutOverwrites(t *testing.T) {
	positions, cash := testPortfolio()
	hash := HashPortfolio(positions, cash)

	c := New(15 * time.Minute)
	c.Put("AAPL", &ai.Decision{Action: ai.ActionHold}, hash)
	c.Put("AAPL", &ai.Decision{Action: ai.ActionSell, Ticker: "AAPL", Shares: 10}, hash)

	got, ok := c.Get("AAPL", hash)
	require.True(t, ok)
	assert.Equal(t, ai.ActionSell, got.Action)
	assert.Equal(t, 1, c.Len())
}

func TestHashPortfolio_OrderIndependent(t *testing.T) {
	positions, cash := testPortfolio()
	reversed := []models.Position{positions[1], positions[0]}

	assert.Equal(t, HashPortfolio(positions, cash), HashPortfolio(reversed, cash))
}
