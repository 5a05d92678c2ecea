package alpaca

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"folio_pilot/internal/market"
	"folio_pilot/internal/models"
)

// Provider implements market.Provider against the Alpaca trading and
// market-data APIs. Credentials come from the standard APCA_* env vars.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
}

var _ market.Provider = (*Provider)(nil)

// NewProvider returns a new Alpaca provider.
func NewProvider() *Provider {
	return &Provider{
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
	}
}

// --- Account ---

func (p *Provider) GetAccount() (*models.Account, error) {
	a, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, err
	}
	return &models.Account{
		Cash:        a.Cash,
		BuyingPower: a.BuyingPower,
		Equity:      a.Equity,
		LastEquity:  a.LastEquity,
	}, nil
}

func (p *Provider) ListPositions() ([]models.BrokerPosition, error) {
	positions, err := p.tradeClient.GetPositions()
	if err != nil {
		return nil, err
	}

	var result []models.BrokerPosition
	for _, x := range positions {
		current := decimal.Zero
		if x.CurrentPrice != nil {
			current = *x.CurrentPrice
		}
		marketValue := decimal.Zero
		if x.MarketValue != nil {
			marketValue = *x.MarketValue
		}
		unrealizedPL := decimal.Zero
		if x.UnrealizedPL != nil {
			unrealizedPL = *x.UnrealizedPL
		}

		result = append(result, models.BrokerPosition{
			Symbol:        x.Symbol,
			Qty:           x.Qty,
			AvgEntryPrice: x.AvgEntryPrice,
			CurrentPrice:  current,
			MarketValue:   marketValue,
			CostBasis:     x.CostBasis,
			UnrealizedPL:  unrealizedPL,
		})
	}
	return result, nil
}

// --- Market data ---

func (p *Provider) GetPrice(ticker string) (decimal.Decimal, error) {
	trade, err := p.mdClient.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, err
	}
	if trade == nil {
		return decimal.Zero, fmt.Errorf("no trade found for %s", ticker)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func (p *Provider) GetQuote(ticker string) (*models.Quote, error) {
	snap, err := p.mdClient.GetSnapshot(ticker, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.LatestTrade == nil {
		return nil, fmt.Errorf("no snapshot found for %s", ticker)
	}

	q := &models.Quote{
		Symbol:    ticker,
		Price:     decimal.NewFromFloat(snap.LatestTrade.Price),
		Timestamp: snap.LatestTrade.Timestamp,
	}
	if snap.PrevDailyBar != nil {
		q.PreviousClose = decimal.NewFromFloat(snap.PrevDailyBar.Close)
	}
	if snap.DailyBar != nil {
		q.Volume = int64(snap.DailyBar.Volume)
	}
	return q, nil
}

func (p *Provider) GetBars(ticker string, days int) ([]models.Bar, error) {
	start := time.Now().AddDate(0, 0, -days)
	bars, err := p.mdClient.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
	})
	if err != nil {
		return nil, err
	}

	var result []models.Bar
	for _, b := range bars {
		result = append(result, models.Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: int64(b.Volume),
		})
	}
	return result, nil
}

// GetMarketCap always fails: Alpaca's feed carries no fundamentals. The
// snapshot builder treats this as per-symbol data unavailable.
func (p *Provider) GetMarketCap(ticker string) (decimal.Decimal, error) {
	return decimal.Zero, market.ErrUnsupported
}

func (p *Provider) GetClock() (*models.Clock, error) {
	c, err := p.tradeClient.GetClock()
	if err != nil {
		return nil, err
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// --- Orders ---

func (p *Provider) ListOpenOrders(symbol string) ([]models.Order, error) {
	req := alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  100,
	}
	if symbol != "" {
		req.Symbols = []string{symbol}
	}
	orders, err := p.tradeClient.GetOrders(req)
	if err != nil {
		return nil, err
	}

	var result []models.Order
	for i := range orders {
		result = append(result, *mapOrder(&orders[i]))
	}
	return result, nil
}

func (p *Provider) GetOrder(orderID string) (*models.Order, error) {
	o, err := p.tradeClient.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

func (p *Provider) PlaceMarketOrder(ticker string, qty decimal.Decimal, side string) (*models.Order, error) {
	o, err := p.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      ticker,
		Qty:         &qty,
		Side:        alpaca.Side(side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

// PlaceStopOrder submits a good-till-cancelled protective stop-sell.
func (p *Provider) PlaceStopOrder(ticker string, qty decimal.Decimal, stopPrice decimal.Decimal) (*models.Order, error) {
	o, err := p.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      ticker,
		Qty:         &qty,
		Side:        alpaca.Sell,
		Type:        alpaca.Stop,
		StopPrice:   &stopPrice,
		TimeInForce: alpaca.GTC,
	})
	if err != nil {
		return nil, err
	}
	return mapOrder(o), nil
}

func (p *Provider) CancelOrder(orderID string) error {
	return p.tradeClient.CancelOrder(orderID)
}

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}

	res := &models.Order{
		ID:        o.ID,
		Symbol:    o.Symbol,
		FilledQty: o.FilledQty,
		Type:      string(o.Type),
		Side:      string(o.Side),
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if o.Qty != nil {
		res.Qty = *o.Qty
	}
	if o.StopPrice != nil {
		res.StopPrice = *o.StopPrice
	}
	if o.FilledAvgPrice != nil {
		res.FilledAvgPrice = *o.FilledAvgPrice
	}
	return res
}
