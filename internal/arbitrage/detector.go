// Package arbitrage implements cross-book two-way arbitrage detection, the
// opportunity lifecycle registry, and the periodic scan scheduler.
package arbitrage

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// defaultTimeSensitivity stands in for a market-volatility-derived score
// until a real volatility/liquidity feed exists. Mid-range so downstream
// consumers neither rush nor ignore detected opportunities.
const defaultTimeSensitivity = 0.5

// minAcceptConfidence is the confidence floor applied at re-validation.
const minAcceptConfidence = 0.5

// DetectorConfig holds the tunable parameters for two-way detection.
type DetectorConfig struct {
	MinProfitMargin float64       // margins below this don't survive slippage
	MinOdds         float64       // filters illiquid or erroneous quotes
	MaxOdds         float64
	MaxExposure     float64       // global cap on total stake per opportunity
	MaxBetDelay     time.Duration // staleness and expiry horizon
}

// DefaultDetectorConfig returns the detection defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinProfitMargin: 0.02,
		MinOdds:         1.1,
		MaxOdds:         10.0,
		MaxExposure:     1000,
		MaxBetDelay:     30 * time.Second,
	}
}

// Detector finds profitable two-way combinations in a market's quote set and
// computes stake split, expected profit, and a risk score for each.
type Detector struct {
	cfg    DetectorConfig
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb_detector")),
	}
}

// Detect evaluates every unordered pair of distinct books in the snapshot and
// returns the opportunities found, each with status pending. Markets with
// fewer than two quotes yield nothing.
func (d *Detector) Detect(snap domain.MarketSnapshot, now time.Time) []domain.ArbitrageOpportunity {
	if len(snap.Quotes) < 2 {
		return nil
	}

	// Stable pair ordering regardless of map iteration.
	bookIDs := make([]string, 0, len(snap.Quotes))
	for id := range snap.Quotes {
		bookIDs = append(bookIDs, id)
	}
	sort.Strings(bookIDs)

	var opps []domain.ArbitrageOpportunity
	for i := 0; i < len(bookIDs); i++ {
		for j := i + 1; j < len(bookIDs); j++ {
			qa, qb := snap.Quotes[bookIDs[i]], snap.Quotes[bookIDs[j]]
			if opp, ok := d.evaluatePair(snap.MarketID, qa, qb, now); ok {
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// evaluatePair applies the two-way arbitrage model to a single quote pair.
func (d *Detector) evaluatePair(marketID string, qa, qb domain.OddsQuote, now time.Time) (domain.ArbitrageOpportunity, bool) {
	if !d.oddsInRange(qa.Odds) || !d.oddsInRange(qb.Odds) {
		return domain.ArbitrageOpportunity{}, false
	}

	pa := qa.ImpliedProbability()
	pb := qb.ImpliedProbability()
	if pa <= 0 || pb <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	// Implied probabilities summing to 1 or more means the books leave no
	// edge on this pair.
	impliedSum := pa + pb
	if impliedSum >= 1 {
		return domain.ArbitrageOpportunity{}, false
	}

	margin := 1 - impliedSum
	if margin < d.cfg.MinProfitMargin {
		return domain.ArbitrageOpportunity{}, false
	}

	// Never propose more than either book accepts or the exposure cap.
	totalStake := min(d.cfg.MaxExposure, qa.MaxStake, qb.MaxStake)
	if totalStake <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	// Splitting proportional to implied probability equalizes the payout
	// regardless of which side wins.
	stakeA := totalStake * pa / impliedSum
	stakeB := totalStake * pb / impliedSum

	maxStaleness := max(qa.Age(now), qb.Age(now))
	confidence := 1 - maxStaleness.Seconds()/d.cfg.MaxBetDelay.Seconds()
	if confidence < 0 {
		confidence = 0
	}

	opp := domain.ArbitrageOpportunity{
		ID:             domain.OpportunityID(qa.BookID, qb.BookID, now),
		MarketID:       marketID,
		DetectedAt:     now,
		ProfitMargin:   margin,
		TotalStake:     totalStake,
		ExpectedProfit: totalStake * margin,
		Legs: []domain.OpportunityLeg{
			{BookID: qa.BookID, Odds: qa.Odds, Stake: stakeA, MaxStake: qa.MaxStake},
			{BookID: qb.BookID, Odds: qb.Odds, Stake: stakeB, MaxStake: qb.MaxStake},
		},
		Risk: domain.RiskProfile{
			Exposure:        totalStake,
			Confidence:      confidence,
			TimeSensitivity: defaultTimeSensitivity,
		},
		Status: domain.OpportunityPending,
	}

	d.logger.Debug("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("market_id", marketID),
		slog.Float64("profit_margin", margin),
		slog.Float64("total_stake", totalStake),
	)
	return opp, true
}

// Validate re-checks an opportunity immediately before registry acceptance.
// A failing opportunity is discarded by the caller, not stored.
func (d *Detector) Validate(opp domain.ArbitrageOpportunity, now time.Time) error {
	if opp.ProfitMargin < d.cfg.MinProfitMargin {
		return fmt.Errorf("profit margin %.4f below minimum %.4f", opp.ProfitMargin, d.cfg.MinProfitMargin)
	}
	if opp.TotalStake > d.cfg.MaxExposure {
		return fmt.Errorf("total stake %.2f exceeds exposure cap %.2f", opp.TotalStake, d.cfg.MaxExposure)
	}
	if opp.Risk.Confidence < minAcceptConfidence {
		return fmt.Errorf("confidence %.2f below floor %.2f", opp.Risk.Confidence, minAcceptConfidence)
	}
	if age := opp.Age(now); age > d.cfg.MaxBetDelay {
		return fmt.Errorf("opportunity aged out (%s > %s)", age, d.cfg.MaxBetDelay)
	}
	for _, leg := range opp.Legs {
		if leg.Stake > leg.MaxStake {
			return fmt.Errorf("leg %s stake %.2f exceeds book limit %.2f", leg.BookID, leg.Stake, leg.MaxStake)
		}
	}
	return nil
}

func (d *Detector) oddsInRange(odds float64) bool {
	return odds >= d.cfg.MinOdds && odds <= d.cfg.MaxOdds
}
