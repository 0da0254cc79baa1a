package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest per-book quotes so dashboard collaborators
// can read market data without touching the in-process store.
type QuoteCache interface {
	SetQuote(ctx context.Context, quote OddsQuote) error
	GetMarket(ctx context.Context, marketID string) (map[string]OddsQuote, error)
	Expire(ctx context.Context, marketID string, ttl time.Duration) error
}

// SignalBus provides pub/sub messaging between the core and its
// collaborators: quote events arrive on it, detected opportunities and
// settlement results leave on it.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
