// Package ledger owns the two append-only delimited files that form the
// system's audit trail: the portfolio ledger (one row per ticker per cycle
// plus a TOTAL summary row) and the trade log (one row per executed order).
// Both are human-readable and diffable, and are never rewritten, only
// appended. They are the sole source of equity history for the metrics
// engine.
package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"folio_pilot/internal/models"
)

const dateLayout = "2006-01-02 15:04:05"

var ledgerHeader = []string{
	"date", "ticker", "shares", "cost_basis", "stop_loss",
	"current_price", "total_value", "pnl", "action", "cash_balance", "total_equity",
}

var tradeHeader = []string{
	"date", "ticker", "shares_bought", "buy_price", "shares_sold",
	"sell_price", "cost_basis", "pnl", "reason",
}

// Ledger provides batch-atomic appends and read access to both files.
type Ledger struct {
	path      string
	tradePath string

	mu  sync.Mutex
	log zerolog.Logger
}

// New returns a Ledger over the given file paths. Files are created lazily
// on first append.
func New(path, tradePath string, log zerolog.Logger) *Ledger {
	return &Ledger{
		path:      path,
		tradePath: tradePath,
		log:       log.With().Str("component", "ledger").Logger(),
	}
}

// AppendCycle persists one full processing cycle. The batch is encoded in
// memory first and written in a single flush, so a failed cycle leaves the
// file untouched and no partial writes interleave with other readers.
func (l *Ledger) AppendCycle(rows []models.LedgerRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("refusing to append empty cycle")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := w.Write(encodeLedgerRow(row)); err != nil {
			return fmt.Errorf("encode ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode cycle batch: %w", err)
	}

	return appendAll(l.path, ledgerHeader, buf.Bytes())
}

// AppendTrade records one confirmed order placement in the trade log.
func (l *Ledger) AppendTrade(e models.TradeLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(encodeTradeEntry(e)); err != nil {
		return fmt.Errorf("encode trade entry: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode trade entry: %w", err)
	}

	return appendAll(l.tradePath, tradeHeader, buf.Bytes())
}

// StopLosses returns the most recently recorded stop-loss level per ticker.
// This is the locally authoritative half of portfolio reconciliation; the
// broker never knows these levels.
func (l *Ledger) StopLosses() (map[string]decimal.Decimal, error) {
	records, err := l.readAll(l.path)
	if err != nil {
		return nil, err
	}

	stops := make(map[string]decimal.Decimal)
	for _, rec := range records {
		ticker := rec[1]
		if ticker == models.TotalTicker {
			continue
		}
		sl, err := decimal.NewFromString(rec[4])
		if err != nil {
			l.log.Warn().Str("ticker", ticker).Str("stop_loss", rec[4]).Msg("unparseable stop-loss, skipping row")
			continue
		}
		// Later rows win: the file is append-ordered by cycle.
		stops[ticker] = sl
	}
	return stops, nil
}

// EquityHistory returns the totalEquity of every TOTAL row in append order.
func (l *Ledger) EquityHistory() ([]float64, error) {
	records, err := l.readAll(l.path)
	if err != nil {
		return nil, err
	}

	var history []float64
	for _, rec := range records {
		if rec[1] != models.TotalTicker {
			continue
		}
		equity, err := strconv.ParseFloat(rec[10], 64)
		if err != nil {
			l.log.Warn().Str("total_equity", rec[10]).Msg("unparseable TOTAL equity, skipping row")
			continue
		}
		history = append(history, equity)
	}
	return history, nil
}

// readAll returns all data records (header stripped). A missing file is an
// empty history, not an error.
func (l *Ledger) readAll(path string) ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) > 0 && records[0][0] == "date" {
		records = records[1:]
	}
	return records, nil
}

// appendAll opens path in append mode (writing the header first on a new
// file), writes data in one call, and syncs before returning.
func appendAll(path string, header []string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		w.Write(header)
		w.Flush()
		if _, err := f.Write(buf.Bytes()); err != nil {
			return err
		}
	}

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func encodeLedgerRow(r models.LedgerRow) []string {
	totalEquity := ""
	if r.IsTotal() {
		totalEquity = r.TotalEquity.StringFixed(2)
	}
	return []string{
		r.Date.Format(dateLayout),
		r.Ticker,
		r.Shares.String(),
		r.CostBasis.StringFixed(2),
		r.StopLoss.StringFixed(2),
		r.CurrentPrice,
		r.TotalValue,
		r.Pnl,
		r.Action,
		r.CashBalance.StringFixed(2),
		totalEquity,
	}
}

func encodeTradeEntry(e models.TradeLogEntry) []string {
	return []string{
		e.Date.Format(dateLayout),
		e.Ticker,
		e.SharesBought.String(),
		e.BuyPrice.StringFixed(2),
		e.SharesSold.String(),
		e.SellPrice.StringFixed(2),
		e.CostBasis.StringFixed(2),
		e.Pnl.StringFixed(2),
		e.Reason,
	}
}
