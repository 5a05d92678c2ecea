// Package decision memoizes AI advisory recommendations keyed by a content
// hash of the portfolio state, so an unchanged portfolio never triggers a
// redundant advisory call, and a changed one never sees a stale answer.
package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"folio_pilot/internal/ai"
	"folio_pilot/internal/models"
)

// Entry is one cached recommendation. A nil Decision is meaningful: it
// records "AI declined to recommend action", distinct from "not analyzed".
type Entry struct {
	Ticker    string
	Decision  *ai.Decision
	Timestamp time.Time
	Hash      string
}

// Cache is a TTL + portfolio-hash memoization layer. Any cash or position
// change invalidates all entries implicitly: the new hash never matches.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]Entry

	now func() time.Time
}

// New returns a Cache with the given TTL. The clock is injectable for tests
// via WithClock.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// WithClock replaces the cache's clock and returns the cache.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached decision for ticker, but only when the entry is
// unexpired and was stored under the same portfolio hash. The second return
// distinguishes a hit (possibly a nil "no action" decision) from a miss.
func (c *Cache) Get(ticker, portfolioHash string) (*ai.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()

	e, ok := c.entries[ticker]
	if !ok || e.Hash != portfolioHash {
		return nil, false
	}
	return e.Decision, true
}

// Put stores a decision (nil caches "AI declined"), overwriting any prior
// entry for the ticker.
func (c *Cache) Put(ticker string, d *ai.Decision, portfolioHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[ticker] = Entry{
		Ticker:    ticker,
		Decision:  d,
		Timestamp: c.now(),
		Hash:      portfolioHash,
	}
}

// Len reports the live entry count (after purging), a size-bound check.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
	return len(c.entries)
}

// purgeLocked drops expired entries. Opportunistic, not a scheduler.
func (c *Cache) purgeLocked() {
	cutoff := c.now().Add(-c.ttl)
	for ticker, e := range c.entries {
		if e.Timestamp.Before(cutoff) {
			delete(c.entries, ticker)
		}
	}
}

// HashPortfolio is a deterministic content hash over every
// (ticker, shares, currentPrice) tuple plus cash, sorted by ticker for
// order independence. Any swap in position size, price or cash changes the
// hash and forces re-analysis.
func HashPortfolio(positions []models.Position, cash decimal.Decimal) string {
	parts := make([]string, 0, len(positions)+1)
	for _, p := range positions {
		parts = append(parts, fmt.Sprintf("%s|%s|%s", p.Ticker, p.Shares.String(), p.CurrentPrice.StringFixed(2)))
	}
	sort.Strings(parts)
	parts = append(parts, "cash="+cash.StringFixed(2))

	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:])
}
