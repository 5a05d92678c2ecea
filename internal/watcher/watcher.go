// Package watcher orchestrates the processing cycle: reconcile the
// portfolio against the broker, enforce stop-losses, record the cycle in
// the ledger, refresh performance figures and consult the advisory service.
package watcher

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"folio_pilot/internal/ai"
	"folio_pilot/internal/config"
	"folio_pilot/internal/decision"
	"folio_pilot/internal/execution"
	"folio_pilot/internal/gateway"
	"folio_pilot/internal/ledger"
	"folio_pilot/internal/market"
	"folio_pilot/internal/metrics"
	"folio_pilot/internal/models"
	"folio_pilot/internal/telegram"
	"folio_pilot/internal/telemetry"
)

// Watcher holds the reconciled in-memory portfolio and drives one cycle at
// a time. Cycles are serialized by the run mutex; the execution engine's
// conflict-resolution protocol depends on that.
type Watcher struct {
	provider market.Provider
	gw       *gateway.Gateway
	exec     *execution.Engine
	book     *ledger.Ledger
	perf     *metrics.Engine
	cache    *decision.Cache
	advisor  *ai.Client
	cfg      *config.Config
	notify   telegram.Notifier
	stats    *telemetry.Metrics
	log      zerolog.Logger

	runMu sync.Mutex

	mu        sync.RWMutex
	positions map[string]models.Position
	cash      decimal.Decimal

	// Stops accepted from advisory buys that have not yet been written to
	// a ledger row. They win over the ledger during the next
	// reconciliation, which then persists them.
	pendingStops map[string]decimal.Decimal
}

// New builds a Watcher. The execution engine is wired afterwards via
// SetExecutor because it needs the watcher as its holdings source.
func New(provider market.Provider, gw *gateway.Gateway, book *ledger.Ledger, perf *metrics.Engine, cache *decision.Cache, advisor *ai.Client, cfg *config.Config, notify telegram.Notifier, stats *telemetry.Metrics, log zerolog.Logger) *Watcher {
	return &Watcher{
		provider:  provider,
		gw:        gw,
		book:      book,
		perf:      perf,
		cache:     cache,
		advisor:   advisor,
		cfg:       cfg,
		notify:    notify,
		stats:     stats,
		log:       log.With().Str("component", "watcher").Logger(),
		positions:    make(map[string]models.Position),
		cash:         decimal.Zero,
		pendingStops: make(map[string]decimal.Decimal),
	}
}

// SetExecutor attaches the order execution engine.
func (w *Watcher) SetExecutor(exec *execution.Engine) {
	w.exec = exec
}

// Position implements the execution engine's holdings lookup against the
// reconciled portfolio.
func (w *Watcher) Position(ticker string) (models.Position, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.positions[ticker]
	return p, ok
}

// Run implements cron.Job.
func (w *Watcher) Run() {
	if err := w.RunCycle(); err != nil {
		w.log.Error().Err(err).Msg("processing cycle failed")
		w.notify(fmt.Sprintf("⚠️ Processing cycle failed: %v", err))
	}
}

// RunCycle executes one full processing cycle. Safe to call from a
// scheduler; overlapping invocations are serialized.
func (w *Watcher) RunCycle() error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	start := time.Now()
	defer w.stats.ObserveCycle(start)

	account, err := w.syncState()
	if err != nil {
		return fmt.Errorf("broker reconciliation: %w", err)
	}

	totalEquity, err := w.processPortfolio()
	if err != nil {
		return fmt.Errorf("portfolio processing: %w", err)
	}
	w.stats.Equity.Set(totalEquity.InexactFloat64())

	report := w.performanceReport(account)
	w.log.Info().
		Float64("equity", report.Equity).
		Float64("total_return", report.TotalReturn).
		Str("source", report.Source).
		Msg("cycle complete")

	w.runAdvisory(account, report)
	return nil
}

// performanceReport computes the full report from ledger history when at
// least two TOTAL rows exist, otherwise the direct snapshot fallback.
func (w *Watcher) performanceReport(account *models.Account) metrics.Report {
	history, err := w.book.EquityHistory()
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to read equity history")
	}
	if report, ok := w.perf.FromHistory(history); ok {
		return report
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.perf.Snapshot(w.cash, w.sortedPositionsLocked(), account.Equity)
}

// SendStartupNotification announces the process with account figures.
func (w *Watcher) SendStartupNotification() {
	var account *models.Account
	err := w.gw.Call("get account", func() error {
		var callErr error
		account, callErr = w.provider.GetAccount()
		return callErr
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("startup: could not fetch account")
		w.notify(fmt.Sprintf("🚀 *SYSTEM START: folio-pilot %s online* (account unavailable: %v)", w.cfg.Version, err))
		return
	}
	w.notify(fmt.Sprintf("🚀 *SYSTEM START: folio-pilot %s online*\nEquity: $%s | BP: $%s",
		w.cfg.Version, account.Equity.StringFixed(2), account.BuyingPower.StringFixed(2)))
}

// SendShutdownNotification reports the shutdown. The ledger files are
// already flushed per cycle; no partial cycle is written here.
func (w *Watcher) SendShutdownNotification() {
	w.notify("🛑 SYSTEM SHUTDOWN: signal received, no cycle in flight.")
}

// sortedPositionsLocked returns the positions ordered by ticker. Callers
// must hold at least the read lock.
func (w *Watcher) sortedPositionsLocked() []models.Position {
	out := make([]models.Position, 0, len(w.positions))
	for _, p := range w.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
