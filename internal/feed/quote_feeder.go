package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/quotes"
)

// quoteEvent is the JSON shape quote events arrive in on the "quotes"
// channel.
type quoteEvent struct {
	MarketID  string  `json:"market_id"`
	BookID    string  `json:"book_id"`
	Odds      float64 `json:"odds"`
	MaxStake  float64 `json:"max_stake"`
	Timestamp string  `json:"timestamp"`
}

// FeedMetrics counts ingest outcomes.
type FeedMetrics interface {
	QuoteIngested()
	QuoteDropped()
}

// QuoteFeeder consumes quote events from the bus, ingests them into the
// quote store, mirrors them to the quote cache, and runs event-triggered
// detection on the affected market. Each message is handled to completion
// before the next; the feeder is the single writer into the store.
type QuoteFeeder struct {
	bus      domain.SignalBus
	store    *quotes.Store
	cache    domain.QuoteCache // optional
	detector *arbitrage.Detector
	registry *arbitrage.Registry
	metrics  FeedMetrics // optional
	cacheTTL time.Duration
	logger   *slog.Logger
}

// QuoteFeederConfig bundles the feeder's dependencies. Cache and Metrics may
// be nil.
type QuoteFeederConfig struct {
	Bus      domain.SignalBus
	Store    *quotes.Store
	Cache    domain.QuoteCache
	Detector *arbitrage.Detector
	Registry *arbitrage.Registry
	Metrics  FeedMetrics
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// NewQuoteFeeder creates a QuoteFeeder.
func NewQuoteFeeder(cfg QuoteFeederConfig) *QuoteFeeder {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &QuoteFeeder{
		bus:      cfg.Bus,
		store:    cfg.Store,
		cache:    cfg.Cache,
		detector: cfg.Detector,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger.With(slog.String("component", "quote_feeder")),
	}
}

// Run subscribes to "quotes" and processes events until ctx is cancelled.
func (f *QuoteFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, "quotes")
	if err != nil {
		return err
	}
	f.logger.Info("quote feeder started")
	defer f.logger.Info("quote feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, data)
		}
	}
}

// handleMessage parses one quote event and drives ingest plus detection.
// Malformed events are logged and dropped; nothing propagates.
func (f *QuoteFeeder) handleMessage(ctx context.Context, data []byte) {
	var ev quoteEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Warn("dropping unparseable quote event",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		if f.metrics != nil {
			f.metrics.QuoteDropped()
		}
		return
	}

	ts := time.Now()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			ts = t
		}
	}

	quote := domain.OddsQuote{
		MarketID:  strings.TrimSpace(ev.MarketID),
		BookID:    strings.TrimSpace(ev.BookID),
		Odds:      ev.Odds,
		MaxStake:  ev.MaxStake,
		Timestamp: ts,
	}
	if err := f.store.Ingest(quote); err != nil {
		if f.metrics != nil {
			f.metrics.QuoteDropped()
		}
		return
	}
	if f.metrics != nil {
		f.metrics.QuoteIngested()
	}

	if f.cache != nil {
		if err := f.cache.SetQuote(ctx, quote); err != nil {
			f.logger.Debug("quote cache update failed",
				slog.String("market_id", quote.MarketID),
				slog.String("error", err.Error()),
			)
		} else {
			_ = f.cache.Expire(ctx, quote.MarketID, f.cacheTTL)
		}
	}

	f.detectMarket(ctx, quote.MarketID)
}

// detectMarket runs event-triggered detection for one market.
func (f *QuoteFeeder) detectMarket(ctx context.Context, marketID string) {
	if f.detector == nil || f.registry == nil {
		return
	}
	snap, err := f.store.Snapshot(marketID)
	if err != nil {
		return
	}
	now := time.Now()
	for _, opp := range f.detector.Detect(snap, now) {
		if err := f.detector.Validate(opp, now); err != nil {
			continue
		}
		if err := f.registry.Accept(ctx, opp); err != nil && err != domain.ErrAlreadyExists {
			f.logger.Warn("accept failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
