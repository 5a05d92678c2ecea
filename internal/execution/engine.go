// Package execution places buy, sell and protective stop orders while
// preventing wash-trade rejections: the broker refuses orders that could
// trade against the account's own open orders, so conflicting orders are
// cancelled (and given time to settle) before anything new is submitted.
//
// The conflict-resolution protocol is not safe under concurrent execution;
// all mutating calls for a ticker must come from a single call site, which
// the watcher's serialized cycle guarantees.
package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"folio_pilot/internal/gateway"
	"folio_pilot/internal/ledger"
	"folio_pilot/internal/market"
	"folio_pilot/internal/models"
	"folio_pilot/internal/telemetry"
)

// HoldingsSource is the engine's read-only view of the reconciled
// portfolio, used to validate sells locally before any brokerage call.
type HoldingsSource interface {
	Position(ticker string) (models.Position, bool)
}

// Options carries the named settle delays from the execution protocol plus
// injectable timing for tests. Zero-valued fields get production defaults.
type Options struct {
	// CancelSettleDelay is how long to wait after cancelling conflicting
	// orders before submitting a new one.
	CancelSettleDelay time.Duration
	// FillSettleDelay is how long to wait after a market buy before
	// attaching its protective stop.
	FillSettleDelay time.Duration

	Sleep  func(time.Duration)
	Now    func() time.Time
	Notify func(string)
}

// Engine is the order execution gateway.
type Engine struct {
	provider market.Provider
	gw       *gateway.Gateway
	trades   *ledger.Ledger
	holdings HoldingsSource

	cancelSettle time.Duration
	fillSettle   time.Duration
	sleep        func(time.Duration)
	now          func() time.Time
	notify       func(string)

	stats *telemetry.Metrics
	log   zerolog.Logger
}

// New builds an execution engine.
func New(provider market.Provider, gw *gateway.Gateway, trades *ledger.Ledger, holdings HoldingsSource, opts Options, stats *telemetry.Metrics, log zerolog.Logger) *Engine {
	e := &Engine{
		provider:     provider,
		gw:           gw,
		trades:       trades,
		holdings:     holdings,
		cancelSettle: opts.CancelSettleDelay,
		fillSettle:   opts.FillSettleDelay,
		sleep:        opts.Sleep,
		now:          opts.Now,
		notify:       opts.Notify,
		stats:        stats,
		log:          log.With().Str("component", "execution").Logger(),
	}
	if e.cancelSettle <= 0 {
		e.cancelSettle = 3 * time.Second
	}
	if e.fillSettle <= 0 {
		e.fillSettle = 2 * time.Second
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.notify == nil {
		e.notify = func(string) {}
	}
	return e
}

// PlaceBuy submits a market buy, resolving wash-trade conflicts first. When
// stopLoss > 0 a good-till-cancelled protective stop-sell is attached after
// the fill settles; failure to attach it is logged and notified but does
// not fail the buy: the buy is already executed and irreversible.
func (e *Engine) PlaceBuy(ticker string, shares int64, stopLoss decimal.Decimal) (*models.Order, error) {
	qty := decimal.NewFromInt(shares)

	// An open sell order on the same ticker would make this buy look like
	// trading against ourselves. Cancel and let the cancellations settle.
	if _, err := e.resolveConflicts(ticker, "sell"); err != nil {
		return nil, err
	}

	var order *models.Order
	err := e.gw.Call("place buy "+ticker, func() error {
		var callErr error
		order, callErr = e.provider.PlaceMarketOrder(ticker, qty, "buy")
		return callErr
	})
	if err != nil {
		return nil, mapOrderError(err)
	}
	e.stats.OrdersPlaced.WithLabelValues("buy").Inc()
	e.log.Info().Str("ticker", ticker).Int64("shares", shares).Str("order_id", order.ID).Msg("market buy submitted")

	if stopLoss.GreaterThan(decimal.Zero) {
		e.attachStop(ticker, qty, stopLoss)
	}

	order = e.refreshOrder(order)
	buyPrice := order.FilledAvgPrice
	if buyPrice.IsZero() {
		// Market order not yet filled; record the latest trade price so the
		// audit row carries a real figure.
		e.gw.Call("get price "+ticker, func() error {
			var callErr error
			buyPrice, callErr = e.provider.GetPrice(ticker)
			return callErr
		})
	}
	e.logTrade(models.TradeLogEntry{
		Date:         e.now(),
		Ticker:       ticker,
		SharesBought: qty,
		BuyPrice:     buyPrice,
		CostBasis:    buyPrice.Mul(qty),
		Reason:       "BUY ORDER PLACED",
	})

	return order, nil
}

// attachStop waits for the buy to settle, clears any sell-side conflicts
// that appeared in the meantime, and submits the protective stop. Errors
// are swallowed: the primary trade already succeeded and must not be
// reported as failed.
func (e *Engine) attachStop(ticker string, qty, stopLoss decimal.Decimal) {
	e.sleep(e.fillSettle)

	if _, err := e.resolveConflicts(ticker, "sell"); err != nil {
		e.log.Error().Err(err).Str("ticker", ticker).Msg("conflict check before stop order failed")
	}

	err := e.gw.Call("place stop "+ticker, func() error {
		_, callErr := e.provider.PlaceStopOrder(ticker, qty, stopLoss)
		return callErr
	})
	if err != nil {
		e.log.Error().Err(err).Str("ticker", ticker).Str("stop", stopLoss.StringFixed(2)).
			Msg("stop order placement failed after successful buy")
		e.notify(fmt.Sprintf("⚠️ %s: buy filled but stop order at $%s could not be placed: %v",
			ticker, stopLoss.StringFixed(2), err))
		return
	}
	e.log.Info().Str("ticker", ticker).Str("stop", stopLoss.StringFixed(2)).Msg("protective stop attached")
}

// PlaceSell validates the request against the reconciled portfolio, cancels
// conflicting buy orders and duplicate sells, then submits a market sell.
// A request for more shares than held fails with ErrInsufficientPosition
// before any brokerage call.
func (e *Engine) PlaceSell(ticker string, shares int64, reason string) (*models.Order, error) {
	qty := decimal.NewFromInt(shares)

	pos, ok := e.holdings.Position(ticker)
	if !ok || pos.Shares.LessThan(qty) {
		held := decimal.Zero
		if ok {
			held = pos.Shares
		}
		return nil, fmt.Errorf("%w: %s holds %s, sell requested %s", ErrInsufficientPosition, ticker, held, qty)
	}

	// Open buys conflict (wash trade); open sells would duplicate this one.
	if _, err := e.resolveConflicts(ticker, "buy", "sell"); err != nil {
		return nil, err
	}

	var order *models.Order
	err := e.gw.Call("place sell "+ticker, func() error {
		var callErr error
		order, callErr = e.provider.PlaceMarketOrder(ticker, qty, "sell")
		return callErr
	})
	if err != nil {
		return nil, mapOrderError(err)
	}
	e.stats.OrdersPlaced.WithLabelValues("sell").Inc()
	e.log.Info().Str("ticker", ticker).Int64("shares", shares).Str("reason", reason).Msg("market sell submitted")

	order = e.refreshOrder(order)
	sellPrice := order.FilledAvgPrice
	if sellPrice.IsZero() {
		sellPrice = pos.CurrentPrice
	}
	e.logTrade(models.TradeLogEntry{
		Date:       e.now(),
		Ticker:     ticker,
		SharesSold: qty,
		SellPrice:  sellPrice,
		CostBasis:  pos.BuyPrice.Mul(qty),
		Pnl:        sellPrice.Sub(pos.BuyPrice).Mul(qty),
		Reason:     reason,
	})

	return order, nil
}

// EmergencyStop cancels every open order account-wide. It is the circuit
// breaker: no conflict-resolution delays, no per-ticker logic, cancel
// everything and report what failed.
func (e *Engine) EmergencyStop() error {
	var orders []models.Order
	err := e.gw.Call("list all open orders", func() error {
		var callErr error
		orders, callErr = e.provider.ListOpenOrders("")
		return callErr
	})
	if err != nil {
		return fmt.Errorf("emergency stop: list orders: %w", err)
	}

	var failures []error
	for _, o := range orders {
		o := o
		if cancelErr := e.gw.Call("cancel "+o.ID, func() error {
			return e.provider.CancelOrder(o.ID)
		}); cancelErr != nil {
			failures = append(failures, fmt.Errorf("cancel %s %s: %w", o.Symbol, o.ID, cancelErr))
		}
	}

	e.log.Warn().Int("cancelled", len(orders)-len(failures)).Int("failed", len(failures)).Msg("emergency stop executed")
	e.notify(fmt.Sprintf("🛑 EMERGENCY STOP: cancelled %d open orders (%d failures)", len(orders)-len(failures), len(failures)))
	return errors.Join(failures...)
}

// resolveConflicts cancels open orders for ticker whose side is in sides,
// then waits the cancel-settle delay if anything was cancelled. Returns the
// number of cancellations.
func (e *Engine) resolveConflicts(ticker string, sides ...string) (int, error) {
	var orders []models.Order
	err := e.gw.Call("list open orders "+ticker, func() error {
		var callErr error
		orders, callErr = e.provider.ListOpenOrders(ticker)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("list open orders for %s: %w", ticker, err)
	}

	cancelled := 0
	for _, o := range orders {
		if o.Symbol != ticker || !sideMatches(o.Side, sides) {
			continue
		}
		o := o
		cancelErr := e.gw.Call("cancel "+o.ID, func() error {
			return e.provider.CancelOrder(o.ID)
		})
		if cancelErr != nil {
			e.log.Warn().Err(cancelErr).Str("ticker", ticker).Str("order_id", o.ID).Msg("failed to cancel conflicting order")
			continue
		}
		cancelled++
		e.log.Info().Str("ticker", ticker).Str("side", o.Side).Str("order_id", o.ID).Msg("conflicting order cancelled")
	}

	if cancelled > 0 {
		e.sleep(e.cancelSettle)
	}
	return cancelled, nil
}

// refreshOrder fetches the latest order state (fill price, status) for the
// audit log. Best effort: on failure the placement-time snapshot is kept.
func (e *Engine) refreshOrder(order *models.Order) *models.Order {
	var refreshed *models.Order
	err := e.gw.Call("get order "+order.ID, func() error {
		var callErr error
		refreshed, callErr = e.provider.GetOrder(order.ID)
		return callErr
	})
	if err != nil || refreshed == nil {
		return order
	}
	return refreshed
}

func (e *Engine) logTrade(entry models.TradeLogEntry) {
	if err := e.trades.AppendTrade(entry); err != nil {
		e.log.Error().Err(err).Str("ticker", entry.Ticker).Msg("failed to append trade log entry")
	}
}

func sideMatches(side string, sides []string) bool {
	for _, s := range sides {
		if side == s {
			return true
		}
	}
	return false
}
