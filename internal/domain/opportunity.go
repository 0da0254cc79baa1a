package domain

import (
	"fmt"
	"time"
)

// OpportunityStatus is the lifecycle state of a detected arbitrage.
type OpportunityStatus string

const (
	OpportunityPending  OpportunityStatus = "pending"
	OpportunityExecuted OpportunityStatus = "executed"
	OpportunityExpired  OpportunityStatus = "expired"
	OpportunityFailed   OpportunityStatus = "failed"
)

// Terminal reports whether the status is an end state. Terminal opportunities
// are removed from the registry's active set immediately.
func (s OpportunityStatus) Terminal() bool {
	switch s {
	case OpportunityExecuted, OpportunityExpired, OpportunityFailed:
		return true
	default:
		return false
	}
}

// OpportunityLeg is one side of a two-way arbitrage: the book to bet at, the
// price taken, and the stake allocated to that side.
type OpportunityLeg struct {
	BookID   string
	Odds     float64
	Stake    float64
	MaxStake float64
}

// RiskProfile scores a detected opportunity.
type RiskProfile struct {
	Exposure        float64 // total capital at risk
	Confidence      float64 // (0,1), decays with quote staleness
	TimeSensitivity float64 // (0,1), liquidity/volatility placeholder
}

// ArbitrageOpportunity is a pair of same-market, opposite-outcome quotes whose
// implied probabilities sum below 1. Created by the detector with status
// pending; only the registry mutates Status afterwards.
type ArbitrageOpportunity struct {
	ID             string
	MarketID       string
	DetectedAt     time.Time
	ProfitMargin   float64 // 1 - sum of implied probabilities, in (0,1)
	TotalStake     float64
	ExpectedProfit float64
	Legs           []OpportunityLeg
	Risk           RiskProfile
	Status         OpportunityStatus
}

// OpportunityID derives a stable identifier from the two book IDs and the
// detection time.
func OpportunityID(bookA, bookB string, detectedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", bookA, bookB, detectedAt.UnixMilli())
}

// Age returns how long ago the opportunity was detected.
func (o ArbitrageOpportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}
