package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/quotes"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	incoming  chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		incoming:  make(chan []byte, 16),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return b.incoming, nil
}

type fakeCache struct {
	mu      sync.Mutex
	quotes  []domain.OddsQuote
	expires []string
}

func (c *fakeCache) SetQuote(_ context.Context, quote domain.OddsQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, quote)
	return nil
}

func (c *fakeCache) GetMarket(_ context.Context, _ string) (map[string]domain.OddsQuote, error) {
	return nil, domain.ErrNotFound
}

func (c *fakeCache) Expire(_ context.Context, marketID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires = append(c.expires, marketID)
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	ingested int
	dropped  int
}

func (m *countingMetrics) QuoteIngested() {
	m.mu.Lock()
	m.ingested++
	m.mu.Unlock()
}

func (m *countingMetrics) QuoteDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func feederLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFeeder(t *testing.T) (*QuoteFeeder, *quotes.Store, *arbitrage.Registry, *fakeCache, *countingMetrics) {
	t.Helper()
	store := quotes.New(30*time.Second, feederLogger())
	detector := arbitrage.NewDetector(arbitrage.DefaultDetectorConfig(), feederLogger())
	registry := arbitrage.NewRegistry(arbitrage.RegistryConfig{
		MaxBetDelay: 30 * time.Second,
		Logger:      feederLogger(),
	})
	cache := &fakeCache{}
	metrics := &countingMetrics{}
	feeder := NewQuoteFeeder(QuoteFeederConfig{
		Bus:      newFakeBus(),
		Store:    store,
		Cache:    cache,
		Detector: detector,
		Registry: registry,
		Metrics:  metrics,
		Logger:   feederLogger(),
	})
	return feeder, store, registry, cache, metrics
}

func quoteJSON(market, book string, odds, maxStake float64, ts time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"market_id":%q,"book_id":%q,"odds":%g,"max_stake":%g,"timestamp":%q}`,
		market, book, odds, maxStake, ts.Format(time.RFC3339Nano),
	))
}

func TestHandleMessageIngestsAndCaches(t *testing.T) {
	feeder, store, _, cache, metrics := newTestFeeder(t)
	now := time.Now()

	feeder.handleMessage(context.Background(), quoteJSON("m1", "bookA", 2.5, 500, now))

	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1", store.Len())
	}
	snap, err := store.Snapshot("m1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	q, ok := snap.Quotes["bookA"]
	if !ok {
		t.Fatal("bookA quote missing from snapshot")
	}
	if q.Odds != 2.5 || q.MaxStake != 500 {
		t.Errorf("quote = %+v, want odds 2.5 max_stake 500", q)
	}
	if metrics.ingested != 1 || metrics.dropped != 0 {
		t.Errorf("metrics ingested=%d dropped=%d, want 1/0", metrics.ingested, metrics.dropped)
	}
	if len(cache.quotes) != 1 || cache.quotes[0].BookID != "bookA" {
		t.Errorf("cache quotes = %+v, want one bookA entry", cache.quotes)
	}
	if len(cache.expires) != 1 || cache.expires[0] != "m1" {
		t.Errorf("cache expires = %v, want [m1]", cache.expires)
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	feeder, store, _, _, metrics := newTestFeeder(t)

	feeder.handleMessage(context.Background(), []byte(`{not json`))
	// Valid JSON but an invalid quote: odds below 1.0.
	feeder.handleMessage(context.Background(), quoteJSON("m1", "bookA", 0.5, 500, time.Now()))
	// Missing identifiers.
	feeder.handleMessage(context.Background(), []byte(`{"odds":2.0,"max_stake":100}`))

	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
	if metrics.dropped != 3 {
		t.Errorf("dropped = %d, want 3", metrics.dropped)
	}
	if metrics.ingested != 0 {
		t.Errorf("ingested = %d, want 0", metrics.ingested)
	}
}

func TestHandleMessageTriggersDetection(t *testing.T) {
	feeder, _, registry, _, _ := newTestFeeder(t)
	ctx := context.Background()
	now := time.Now()

	// First book alone cannot form a pair.
	feeder.handleMessage(ctx, quoteJSON("m1", "bookA", 2.5, 1000, now))
	if n := registry.ActiveCount(); n != 0 {
		t.Fatalf("active after one quote = %d, want 0", n)
	}

	// Second book completes a profitable two-way combination.
	feeder.handleMessage(ctx, quoteJSON("m1", "bookB", 2.2, 1000, now))
	if n := registry.ActiveCount(); n != 1 {
		t.Fatalf("active after second quote = %d, want 1", n)
	}

	pending := registry.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].MarketID != "m1" {
		t.Errorf("market = %q, want m1", pending[0].MarketID)
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	feeder, store, _, _, _ := newTestFeeder(t)
	bus := newFakeBus()
	feeder.bus = bus

	bus.incoming <- quoteJSON("m1", "bookA", 2.5, 500, time.Now())
	close(bus.incoming)

	if err := feeder.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d, want 1", store.Len())
	}
}
