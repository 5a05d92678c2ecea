package execution

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"folio_pilot/internal/gateway"
	"folio_pilot/internal/ledger"
	"folio_pilot/internal/market"
	"folio_pilot/internal/models"
	"folio_pilot/internal/telemetry"
)

// mockProvider implements market.Provider and records every brokerage call
// in order, so tests can assert on the conflict-resolution protocol.
type mockProvider struct {
	openOrders []models.Order
	prices     map[string]decimal.Decimal

	placeErr error
	stopErr  error

	calls []string
}

func (m *mockProvider) GetAccount() (*models.Account, error) {
	m.calls = append(m.calls, "account")
	return &models.Account{}, nil
}

func (m *mockProvider) ListPositions() ([]models.BrokerPosition, error) {
	m.calls = append(m.calls, "positions")
	return nil, nil
}

func (m *mockProvider) GetPrice(ticker string) (decimal.Decimal, error) {
	m.calls = append(m.calls, "price "+ticker)
	if p, ok := m.prices[ticker]; ok {
		return p, nil
	}
	return decimal.NewFromFloat(100), nil
}

func (m *mockProvider) GetQuote(ticker string) (*models.Quote, error)   { return nil, nil }
func (m *mockProvider) GetBars(string, int) ([]models.Bar, error)       { return nil, nil }
func (m *mockProvider) GetMarketCap(string) (decimal.Decimal, error)    { return decimal.Zero, market.ErrUnsupported }
func (m *mockProvider) GetClock() (*models.Clock, error)                { return &models.Clock{IsOpen: true}, nil }

func (m *mockProvider) ListOpenOrders(symbol string) ([]models.Order, error) {
	m.calls = append(m.calls, "list "+symbol)
	if symbol == "" {
		return m.openOrders, nil
	}
	var matched []models.Order
	for _, o := range m.openOrders {
		if o.Symbol == symbol {
			matched = append(matched, o)
		}
	}
	return matched, nil
}

func (m *mockProvider) GetOrder(orderID string) (*models.Order, error) {
	m.calls = append(m.calls, "get "+orderID)
	return &models.Order{ID: orderID, Status: "filled", FilledAvgPrice: decimal.NewFromFloat(100)}, nil
}

func (m *mockProvider) PlaceMarketOrder(ticker string, qty decimal.Decimal, side string) (*models.Order, error) {
	m.calls = append(m.calls, fmt.Sprintf("%s %s %s", side, ticker, qty))
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	return &models.Order{ID: "order-1", Symbol: ticker, Qty: qty, Side: side}, nil
}

func (m *mockProvider) PlaceStopOrder(ticker string, qty, stopPrice decimal.Decimal) (*models.Order, error) {
	m.calls = append(m.calls, fmt.Sprintf("stop %s %s @%s", ticker, qty, stopPrice))
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &models.Order{ID: "stop-1", Symbol: ticker}, nil
}

func (m *mockProvider) CancelOrder(orderID string) error {
	m.calls = append(m.calls, "cancel "+orderID)
	remaining := make([]models.Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		if o.ID != orderID {
			remaining = append(remaining, o)
		}
	}
	m.openOrders = remaining
	return nil
}

type fakeHoldings map[string]models.Position

func (f fakeHoldings) Position(ticker string) (models.Position, bool) {
	p, ok := f[ticker]
	return p, ok
}

func newTestEngine(t *testing.T, provider *mockProvider, holdings fakeHoldings) (*Engine, *[]string) {
	t.Helper()
	dir := t.TempDir()
	trades := ledger.New(filepath.Join(dir, "ledger.csv"), filepath.Join(dir, "trades.csv"), zerolog.Nop())
	gw := gateway.New(gateway.Options{
		MinInterval: time.Millisecond,
		Sleep:       func(time.Duration) {},
	}, telemetry.New(), zerolog.Nop())

	var notes []string
	e := New(provider, gw, trades, holdings, Options{
		CancelSettleDelay: time.Millisecond,
		FillSettleDelay:   time.Millisecond,
		Sleep:             func(time.Duration) {},
		Notify:            func(msg string) { notes = append(notes, msg) },
	}, telemetry.New(), zerolog.Nop())
	return e, &notes
}

func TestPlaceBuy_CancelsConflictingSellFirst(t *testing.T) {
	provider := &mockProvider{
		openOrders: []models.Order{
			{ID: "sell-9", Symbol: "AAPL", Side: "sell", Status: "new"},
		},
	}
	e, _ := newTestEngine(t, provider, fakeHoldings{})

	if _, err := e.PlaceBuy("AAPL", 5, decimal.Zero); err != nil {
		t.Fatalf("PlaceBuy failed: %v", err)
	}

	// The cancel must strictly precede the buy; they are never in flight
	// concurrently.
	cancelIdx, buyIdx := -1, -1
	for i, call := range provider.calls {
		switch call {
		case "cancel sell-9":
			cancelIdx = i
		case "buy AAPL 5":
			buyIdx = i
		}
	}
	if cancelIdx == -1 {
		t.Fatal("conflicting sell order was not cancelled")
	}
	if buyIdx == -1 {
		t.Fatal("buy was not submitted")
	}
	if cancelIdx > buyIdx {
		t.Errorf("buy submitted before conflict resolution: %v", provider.calls)
	}
}

func TestPlaceBuy_AttachesProtectiveStop(t *testing.T) {
	provider := &mockProvider{}
	e, _ := newTestEngine(t, provider, fakeHoldings{})

	if _, err := e.PlaceBuy("AAPL", 10, decimal.NewFromFloat(140)); err != nil {
		t.Fatalf("PlaceBuy failed: %v", err)
	}

	found := false
	for _, call := range provider.calls {
		if call == "stop AAPL 10 @140" {
			found = true
		}
	}
	if !found {
		t.Errorf("protective stop not placed, calls: %v", provider.calls)
	}
}

func TestPlaceBuy_StopFailureDoesNotFailBuy(t *testing.T) {
	provider := &mockProvider{
		stopErr: &alpaca.APIError{StatusCode: 422, Message: "invalid stop price"},
	}
	e, notes := newTestEngine(t, provider, fakeHoldings{})

	order, err := e.PlaceBuy("AAPL", 10, decimal.NewFromFloat(140))
	if err != nil {
		t.Fatalf("buy must survive stop placement failure, got: %v", err)
	}
	if order == nil {
		t.Fatal("expected the filled buy order back")
	}
	if len(*notes) == 0 {
		t.Error("operator was not notified about the orphaned position")
	}
}

func TestPlaceSell_InsufficientPositionIssuesNoBrokerCalls(t *testing.T) {
	provider := &mockProvider{}
	holdings := fakeHoldings{
		"AAPL": {Ticker: "AAPL", Shares: decimal.NewFromInt(3)},
	}
	e, _ := newTestEngine(t, provider, holdings)

	_, err := e.PlaceSell("AAPL", 5, "test")
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
	if len(provider.calls) != 0 {
		t.Errorf("local validation failure must not reach the broker, calls: %v", provider.calls)
	}
}

func TestPlaceSell_UnknownTickerFailsFast(t *testing.T) {
	provider := &mockProvider{}
	e, _ := newTestEngine(t, provider, fakeHoldings{})

	_, err := e.PlaceSell("ZZZZ", 1, "test")
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
	if len(provider.calls) != 0 {
		t.Errorf("expected zero brokerage calls, got %v", provider.calls)
	}
}

func TestPlaceSell_CancelsConflictingBuysAndDuplicateSells(t *testing.T) {
	provider := &mockProvider{
		openOrders: []models.Order{
			{ID: "buy-1", Symbol: "AAPL", Side: "buy", Status: "new"},
			{ID: "sell-2", Symbol: "AAPL", Side: "sell", Status: "new"},
			{ID: "buy-3", Symbol: "MSFT", Side: "buy", Status: "new"}, // other ticker, untouched
		},
	}
	holdings := fakeHoldings{
		"AAPL": {Ticker: "AAPL", Shares: decimal.NewFromInt(10), BuyPrice: decimal.NewFromFloat(90)},
	}
	e, _ := newTestEngine(t, provider, holdings)

	if _, err := e.PlaceSell("AAPL", 10, "manual exit"); err != nil {
		t.Fatalf("PlaceSell failed: %v", err)
	}

	cancelled := map[string]bool{}
	for _, call := range provider.calls {
		if call == "cancel buy-1" || call == "cancel sell-2" || call == "cancel buy-3" {
			cancelled[call] = true
		}
	}
	if !cancelled["cancel buy-1"] || !cancelled["cancel sell-2"] {
		t.Errorf("conflicting AAPL orders not cleared: %v", provider.calls)
	}
	if cancelled["cancel buy-3"] {
		t.Errorf("order on unrelated ticker must not be cancelled: %v", provider.calls)
	}
}

func TestPlaceBuy_InsufficientBuyingPower(t *testing.T) {
	provider := &mockProvider{
		placeErr: &alpaca.APIError{StatusCode: 403, Message: "insufficient buying power"},
	}
	e, _ := newTestEngine(t, provider, fakeHoldings{})

	_, err := e.PlaceBuy("AAPL", 1000, decimal.Zero)
	if !errors.Is(err, ErrInsufficientBuyingPower) {
		t.Fatalf("expected ErrInsufficientBuyingPower, got %v", err)
	}
}

func TestPlaceBuy_WashTradeSurfacesConflict(t *testing.T) {
	provider := &mockProvider{
		placeErr: &alpaca.APIError{StatusCode: 403, Message: "potential wash trade detected"},
	}
	e, _ := newTestEngine(t, provider, fakeHoldings{})

	_, err := e.PlaceBuy("AAPL", 1, decimal.Zero)
	if !errors.Is(err, ErrWashTrade) {
		t.Fatalf("expected ErrWashTrade, got %v", err)
	}
}

func TestEmergencyStop_CancelsEverything(t *testing.T) {
	provider := &mockProvider{
		openOrders: []models.Order{
			{ID: "a", Symbol: "AAPL", Side: "buy"},
			{ID: "b", Symbol: "MSFT", Side: "sell"},
			{ID: "c", Symbol: "NVDA", Side: "sell"},
		},
	}
	e, notes := newTestEngine(t, provider, fakeHoldings{})

	if err := e.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop failed: %v", err)
	}
	if len(provider.openOrders) != 0 {
		t.Errorf("open orders remain after emergency stop: %v", provider.openOrders)
	}
	if len(*notes) == 0 {
		t.Error("emergency stop must notify the operator")
	}
}
