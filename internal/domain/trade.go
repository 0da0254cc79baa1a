package domain

import "time"

// TradeOutcome is the settled result of a placed bet.
type TradeOutcome string

const (
	TradeWin  TradeOutcome = "win"
	TradeLoss TradeOutcome = "loss"
)

// TradeRecord is one settled bet. Append-only; never mutated after creation.
type TradeRecord struct {
	ID        string
	Timestamp time.Time
	BetSize   float64
	Outcome   TradeOutcome
	Profit    float64 // negative on a loss
	Metrics   KellyMetrics
}

// PerformanceStats are the aggregates derived from the full trade history.
type PerformanceStats struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	TotalProfit     float64
	MaxDrawdown     float64 // largest peak-to-trough decline of cumulative profit
	CurrentDrawdown float64
	WinRate         float64
	ProfitFactor    float64 // gross profit / |gross loss|
	SharpeRatio     float64
}

// BankrollState is the performance ledger's full durable state: current
// bankroll, the ordered trade history, and the derived aggregates. Loaded at
// startup and persisted after every settled trade.
type BankrollState struct {
	Bankroll    float64
	Trades      []TradeRecord
	Performance PerformanceStats
	UpdatedAt   time.Time
}
