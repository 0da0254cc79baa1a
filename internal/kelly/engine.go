// Package kelly computes risk-adjusted stake fractions from a win-probability
// estimate, decimal odds, and live trading performance. The raw Kelly formula
// is dampened by volatility, drawdown, and trailing win rate before a hard
// go/no-go gate decides whether to bet at all.
package kelly

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// minTrackRecord is how many settled trades the ledger needs before the
// history-derived gates (win rate, profit factor, drawdown) apply. Below it
// the engine has no trailing evidence to veto on.
const minTrackRecord = 10

// PerformanceSource supplies the current performance aggregates. Implemented
// by the ledger; reads must be safe against the ledger's single writer.
type PerformanceSource interface {
	Performance() domain.PerformanceStats
}

// Config holds the Kelly engine's bounds and gate thresholds.
type Config struct {
	MinSize             float64 // lower clamp on the stake fraction
	MaxSize             float64 // upper clamp on the stake fraction
	BaseSize            float64 // constant fraction for fixed sizing
	DrawdownLimit       float64
	MinConfidence       float64
	RiskTolerance       float64 // max acceptable uncertainty
	VolatilityThreshold float64
	RiskFreeRate        float64
	MaxRiskPerTrade     float64 // cap on stake as a fraction of bankroll
	Sizing              domain.PositionSizing
	Bankroll            domain.BankrollMethod
	PredictionWindow    int // recent max-probability samples for volatility
}

// DefaultConfig returns the engine defaults: 1%-10% stake bounds and the
// standard gate thresholds.
func DefaultConfig() Config {
	return Config{
		MinSize:             0.01,
		MaxSize:             0.10,
		BaseSize:            0.02,
		DrawdownLimit:       0.20,
		MinConfidence:       0.30,
		RiskTolerance:       0.95,
		VolatilityThreshold: 0.30,
		RiskFreeRate:        0.02,
		MaxRiskPerTrade:     0.05,
		Sizing:              domain.SizingDynamic,
		Bankroll:            domain.BankrollFixed,
		PredictionWindow:    20,
	}
}

// Engine computes KellyMetrics. Aside from the rolling prediction window it
// is a pure function of its inputs plus the performance snapshot, so it is
// safe to call from multiple triggers.
type Engine struct {
	cfg    Config
	perf   PerformanceSource
	logger *slog.Logger

	mu     sync.Mutex
	recent []float64 // ring buffer of recent max-probability values
	next   int
}

// NewEngine creates an Engine reading performance from src.
func NewEngine(cfg Config, src PerformanceSource, logger *slog.Logger) *Engine {
	if cfg.PredictionWindow <= 0 {
		cfg.PredictionWindow = 20
	}
	return &Engine{
		cfg:    cfg,
		perf:   src,
		logger: logger.With(slog.String("component", "kelly_engine")),
		recent: make([]float64, 0, cfg.PredictionWindow),
	}
}

// Analyze computes the full metrics set for a win probability and decimal
// odds. Degenerate inputs short-circuit to neutral (all-zero) metrics rather
// than erroring.
func (e *Engine) Analyze(probability, odds float64) domain.KellyMetrics {
	if probability <= 0 || probability >= 1 || odds <= 1.0 {
		e.logger.Warn("degenerate prediction input, returning neutral metrics",
			slog.Float64("probability", probability),
			slog.Float64("odds", odds),
		)
		return domain.KellyMetrics{}
	}

	maxProb := probability
	if 1-probability > maxProb {
		maxProb = 1 - probability
	}
	volatility := e.recordPrediction(maxProb)

	perf := e.perf.Performance()

	// Raw Kelly: f = (b*p - q) / b. Never bet a negative edge.
	b := odds - 1
	q := 1 - probability
	fraction := (b*probability - q) / b
	if fraction < 0 {
		fraction = 0
	}

	// Dampening pipeline, order matters.
	fraction *= 1 - volatility
	if perf.TotalTrades >= minTrackRecord {
		if perf.MaxDrawdown > e.cfg.DrawdownLimit {
			damp := 1 - perf.MaxDrawdown
			if damp < 0 {
				damp = 0
			}
			fraction *= damp
		}
		if perf.WinRate < 0.5 {
			fraction *= perf.WinRate
		}
	}

	// Position-sizing method selects the final transform.
	switch e.cfg.Sizing {
	case domain.SizingFixed:
		fraction = e.cfg.BaseSize
	case domain.SizingDynamic:
		fraction *= 1 + perf.WinRate - 0.5
	case domain.SizingAdaptive:
		composite := (perf.WinRate*perf.ProfitFactor +
			1/(1+volatility) +
			max(0, perf.SharpeRatio)) / 3
		fraction *= composite
	}

	fraction = clamp(fraction, e.cfg.MinSize, e.cfg.MaxSize)

	expectedValue := probability*b*fraction - q*fraction
	riskAdjusted := expectedValue / fraction

	uncertainty := binaryEntropy(probability)
	sharpe := 0.0
	if volatility > 0 {
		sharpe = (fraction - e.cfg.RiskFreeRate) / volatility
	}

	return domain.KellyMetrics{
		Fraction:           fraction,
		ExpectedValue:      expectedValue,
		RiskAdjustedReturn: riskAdjusted,
		OptimalStake:       fraction * expectedValue,
		Confidence:         1 - uncertainty,
		Uncertainty:        uncertainty,
		Volatility:         volatility,
		SharpeRatio:        sharpe,
		MaxDrawdown:        perf.MaxDrawdown,
		WinRate:            perf.WinRate,
		ProfitFactor:       perf.ProfitFactor,
	}
}

// ShouldPlaceBet applies the go/no-go gate: every condition must pass, and
// any single failure vetoes the bet.
func (e *Engine) ShouldPlaceBet(m domain.KellyMetrics) bool {
	perf := e.perf.Performance()

	switch {
	case m.Confidence < e.cfg.MinConfidence:
		e.logger.Debug("gate: confidence below minimum",
			slog.Float64("confidence", m.Confidence),
			slog.Float64("min", e.cfg.MinConfidence),
		)
		return false
	case m.ExpectedValue <= 0:
		e.logger.Debug("gate: non-positive expected value",
			slog.Float64("expected_value", m.ExpectedValue),
		)
		return false
	case m.RiskAdjustedReturn <= 0:
		return false
	case m.Uncertainty > e.cfg.RiskTolerance:
		e.logger.Debug("gate: uncertainty above tolerance",
			slog.Float64("uncertainty", m.Uncertainty),
			slog.Float64("tolerance", e.cfg.RiskTolerance),
		)
		return false
	case m.Volatility > e.cfg.VolatilityThreshold:
		e.logger.Debug("gate: volatility above threshold",
			slog.Float64("volatility", m.Volatility),
		)
		return false
	case m.MaxDrawdown > e.cfg.DrawdownLimit:
		e.logger.Debug("gate: drawdown above limit",
			slog.Float64("drawdown", m.MaxDrawdown),
		)
		return false
	}

	if perf.TotalTrades >= minTrackRecord {
		if perf.WinRate < 0.4 {
			e.logger.Debug("gate: trailing win rate below floor",
				slog.Float64("win_rate", perf.WinRate),
			)
			return false
		}
		if perf.ProfitFactor < 1.2 {
			e.logger.Debug("gate: trailing profit factor below floor",
				slog.Float64("profit_factor", perf.ProfitFactor),
			)
			return false
		}
	}
	return true
}

// BetSize returns the stake in bankroll currency, or 0 when the gate fails.
// The bankroll method scales the fraction, which is then clamped against the
// position bounds and the per-trade risk cap.
func (e *Engine) BetSize(m domain.KellyMetrics, bankroll float64) float64 {
	if bankroll <= 0 || !e.ShouldPlaceBet(m) {
		return 0
	}

	perf := e.perf.Performance()
	fraction := m.Fraction

	switch e.cfg.Bankroll {
	case domain.BankrollFixed:
		// Stake the analyzed fraction as-is.
	case domain.BankrollProgressive:
		// Press when running profit is positive, back off when negative.
		if bankroll > 0 {
			scale := 1 + perf.TotalProfit/bankroll
			fraction *= clamp(scale, 0.5, 1.5)
		}
	case domain.BankrollAdaptive:
		fraction *= m.Confidence
	}

	fraction = clamp(fraction, e.cfg.MinSize, e.cfg.MaxSize)
	if e.cfg.MaxRiskPerTrade > 0 && fraction > e.cfg.MaxRiskPerTrade {
		fraction = e.cfg.MaxRiskPerTrade
	}
	return fraction * bankroll
}

// recordPrediction appends a max-probability sample to the rolling window and
// returns the window's sample standard deviation.
func (e *Engine) recordPrediction(maxProb float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.recent) < e.cfg.PredictionWindow {
		e.recent = append(e.recent, maxProb)
	} else {
		e.recent[e.next] = maxProb
		e.next = (e.next + 1) % e.cfg.PredictionWindow
	}
	return sampleStdDev(e.recent)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
