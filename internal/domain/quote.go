package domain

import "time"

// OddsQuote is a single bookmaker price for one market outcome. Quotes are
// immutable once received; a newer quote from the same book supersedes the
// old one rather than mutating it.
type OddsQuote struct {
	BookID    string
	MarketID  string
	Odds      float64 // decimal odds, > 1.0
	MaxStake  float64 // largest stake the book will accept
	Timestamp time.Time
}

// ImpliedProbability returns 1/odds, the probability the book's price implies.
// Returns 0 for degenerate odds so callers can short-circuit instead of
// dividing by zero.
func (q OddsQuote) ImpliedProbability() float64 {
	if q.Odds <= 1.0 {
		return 0
	}
	return 1.0 / q.Odds
}

// Age returns how stale the quote is relative to now.
func (q OddsQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// MarketSnapshot is an immutable view of all current quotes for one market,
// keyed by book ID. Owned exclusively by the quote store; copies handed out
// by Snapshot never alias store-internal state.
type MarketSnapshot struct {
	MarketID   string
	Quotes     map[string]OddsQuote
	LastUpdate time.Time
}
