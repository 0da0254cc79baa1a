package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using a Redis hash per market:
// quotes:{marketID} maps book ID to the JSON-encoded latest quote. External
// readers get market data without touching the in-process store.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(marketID string) string {
	return "quotes:" + marketID
}

// SetQuote writes the latest quote for its book into the market hash,
// replacing any previous quote from the same book.
func (qc *QuoteCache) SetQuote(ctx context.Context, quote domain.OddsQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("redis: marshal quote: %w", err)
	}
	if err := qc.rdb.HSet(ctx, quoteKey(quote.MarketID), quote.BookID, data).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", quote.MarketID, quote.BookID, err)
	}
	return nil
}

// GetMarket returns all cached quotes for a market keyed by book ID. A market
// with no cached quotes returns domain.ErrNotFound.
func (qc *QuoteCache) GetMarket(ctx context.Context, marketID string) (map[string]domain.OddsQuote, error) {
	fields, err := qc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get market %s: %w", marketID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("redis: market %s: %w", marketID, domain.ErrNotFound)
	}

	quotes := make(map[string]domain.OddsQuote, len(fields))
	for bookID, raw := range fields {
		var q domain.OddsQuote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("redis: unmarshal quote %s/%s: %w", marketID, bookID, err)
		}
		quotes[bookID] = q
	}
	return quotes, nil
}

// Expire sets a TTL on the market hash so abandoned markets age out.
func (qc *QuoteCache) Expire(ctx context.Context, marketID string, ttl time.Duration) error {
	if err := qc.rdb.Expire(ctx, quoteKey(marketID), ttl).Err(); err != nil {
		return fmt.Errorf("redis: expire market %s: %w", marketID, err)
	}
	return nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
