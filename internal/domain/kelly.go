package domain

// PositionSizing selects the final stake-fraction transform in the Kelly
// pipeline.
type PositionSizing string

const (
	SizingFixed    PositionSizing = "fixed"
	SizingDynamic  PositionSizing = "dynamic"
	SizingAdaptive PositionSizing = "adaptive"
)

// BankrollMethod selects how a gated bet is sized against the bankroll.
type BankrollMethod string

const (
	BankrollFixed       BankrollMethod = "fixed"
	BankrollProgressive BankrollMethod = "progressive"
	BankrollAdaptive    BankrollMethod = "adaptive"
)

// KellyMetrics is the full output of one Kelly engine analysis. Recomputed
// fresh on every call; never persisted directly.
type KellyMetrics struct {
	Fraction           float64 // clamped to [minSize, maxSize]
	ExpectedValue      float64
	RiskAdjustedReturn float64
	OptimalStake       float64
	Confidence         float64
	Uncertainty        float64 // normalized entropy of {p, 1-p}
	Volatility         float64 // stddev of recent max-probability window
	SharpeRatio        float64
	MaxDrawdown        float64
	WinRate            float64
	ProfitFactor       float64
}
