// Package quotes maintains the live per-market quote book fed by unordered,
// possibly stale, possibly duplicate quote events.
package quotes

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// DefaultStaleWindow is how long a market may go without updates before the
// sweep evicts it.
const DefaultStaleWindow = time.Hour

// Store holds the latest quote per (market, book) pair and evicts markets
// untouched beyond the stale window. It has no side effects beyond its own
// state.
type Store struct {
	mu          sync.RWMutex
	markets     map[string]*marketEntry
	staleWindow time.Duration
	logger      *slog.Logger
}

type marketEntry struct {
	quotes     map[string]domain.OddsQuote
	lastUpdate time.Time
}

// New creates a Store. A non-positive staleWindow falls back to
// DefaultStaleWindow.
func New(staleWindow time.Duration, logger *slog.Logger) *Store {
	if staleWindow <= 0 {
		staleWindow = DefaultStaleWindow
	}
	return &Store{
		markets:     make(map[string]*marketEntry),
		staleWindow: staleWindow,
		logger:      logger.With(slog.String("component", "quote_store")),
	}
}

// Ingest replaces any prior quote for the quote's (market, book) pair and
// refreshes the market's lastUpdate. Malformed quotes are logged and dropped.
// The feed is unordered, so an event carrying a timestamp older than the
// stored quote is dropped with ErrStaleQuote rather than regressing it.
func (s *Store) Ingest(quote domain.OddsQuote) error {
	if quote.MarketID == "" || quote.BookID == "" || quote.Odds <= 1.0 || quote.MaxStake <= 0 {
		s.logger.Warn("dropping malformed quote",
			slog.String("market_id", quote.MarketID),
			slog.String("book_id", quote.BookID),
			slog.Float64("odds", quote.Odds),
		)
		return domain.ErrInvalidQuote
	}
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.markets[quote.MarketID]
	if !ok {
		entry = &marketEntry{quotes: make(map[string]domain.OddsQuote)}
		s.markets[quote.MarketID] = entry
	}
	if prev, ok := entry.quotes[quote.BookID]; ok && quote.Timestamp.Before(prev.Timestamp) {
		s.logger.Debug("dropping out-of-order quote",
			slog.String("market_id", quote.MarketID),
			slog.String("book_id", quote.BookID),
			slog.Time("timestamp", quote.Timestamp),
		)
		return domain.ErrStaleQuote
	}
	entry.quotes[quote.BookID] = quote
	entry.lastUpdate = time.Now()
	return nil
}

// Snapshot returns a copied view of the market's current quotes, or
// domain.ErrNotFound for an unknown market. The copy never aliases store
// state.
func (s *Store) Snapshot(marketID string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.markets[marketID]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}

	quotes := make(map[string]domain.OddsQuote, len(entry.quotes))
	for bookID, q := range entry.quotes {
		quotes[bookID] = q
	}
	return domain.MarketSnapshot{
		MarketID:   marketID,
		Quotes:     quotes,
		LastUpdate: entry.lastUpdate,
	}, nil
}

// ActiveMarkets returns the IDs of markets updated within maxAge of now.
// Stale markets are skipped, not removed; removal is Sweep's job on the
// longer stale window.
func (s *Store) ActiveMarkets(now time.Time, maxAge time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.markets))
	for id, entry := range s.markets {
		if now.Sub(entry.lastUpdate) <= maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sweep evicts every market whose lastUpdate is older than the stale window.
// This bounds memory growth from markets that go inactive. Returns the number
// of markets removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.markets {
		if now.Sub(entry.lastUpdate) > s.staleWindow {
			delete(s.markets, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept stale markets", slog.Int("removed", removed))
	}
	return removed
}

// Len returns the number of tracked markets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markets)
}
