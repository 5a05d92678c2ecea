package market

import (
	"errors"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/models"
)

// ErrUnsupported is returned for data the backing feed does not expose
// (e.g. fundamentals on a trade-data-only provider). Callers treat it the
// same as a per-symbol data-unavailable failure.
var ErrUnsupported = errors.New("not supported by market data provider")

// Provider is the narrow boundary to the brokerage and its market-data feed.
// Implementations return raw transport errors; retry policy belongs to the
// gateway wrapping each call.
type Provider interface {
	// Account and positions (authoritative for quantity/price/cost basis).
	GetAccount() (*models.Account, error)
	ListPositions() ([]models.BrokerPosition, error)

	// Market data.
	GetPrice(ticker string) (decimal.Decimal, error)
	GetQuote(ticker string) (*models.Quote, error)
	GetBars(ticker string, days int) ([]models.Bar, error)
	GetMarketCap(ticker string) (decimal.Decimal, error)
	GetClock() (*models.Clock, error)

	// Order management.
	ListOpenOrders(symbol string) ([]models.Order, error)
	GetOrder(orderID string) (*models.Order, error)
	PlaceMarketOrder(ticker string, qty decimal.Decimal, side string) (*models.Order, error)
	PlaceStopOrder(ticker string, qty decimal.Decimal, stopPrice decimal.Decimal) (*models.Order, error)
	CancelOrder(orderID string) error
}
