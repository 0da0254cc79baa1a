// Package ledger owns the append-only trade history and the performance
// aggregates derived from it. State is loaded from durable storage at startup
// and re-persisted after every settled trade.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// defaultSaveTimeout bounds the fire-and-forget persistence write.
const defaultSaveTimeout = 5 * time.Second

// Ledger maintains BankrollState under single-writer discipline: only
// RecordTrade mutates it. Reads are safe from any goroutine.
type Ledger struct {
	mu    sync.RWMutex
	state domain.BankrollState

	initialBankroll float64
	store           domain.BankrollStore // optional
	saveTimeout     time.Duration
	logger          *slog.Logger
}

// New creates a Ledger that starts from initialBankroll until Load restores
// persisted state. The store may be nil for in-memory-only operation.
func New(initialBankroll float64, store domain.BankrollStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		state: domain.BankrollState{
			Bankroll:  initialBankroll,
			UpdatedAt: time.Now(),
		},
		initialBankroll: initialBankroll,
		store:           store,
		saveTimeout:     defaultSaveTimeout,
		logger:          logger.With(slog.String("component", "ledger")),
	}
}

// SetSaveTimeout overrides the bound on the asynchronous persistence write.
// Non-positive values are ignored. Call before the first RecordTrade.
func (l *Ledger) SetSaveTimeout(d time.Duration) {
	if d > 0 {
		l.saveTimeout = d
	}
}

// Load restores the last persisted state. A missing state is not an error:
// the ledger keeps its fresh initialization. This is a durability boundary,
// not a cache.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	state, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.logger.InfoContext(ctx, "no persisted bankroll state, starting fresh",
				slog.Float64("bankroll", l.initialBankroll),
			)
			return nil
		}
		return fmt.Errorf("ledger: load state: %w", err)
	}

	l.mu.Lock()
	l.state = state
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "bankroll state restored",
		slog.Float64("bankroll", state.Bankroll),
		slog.Int("trades", len(state.Trades)),
	)
	return nil
}

// RecordTrade appends a settled trade, updates the bankroll and every derived
// aggregate, then persists the full state. Persistence is fire-and-forget
// with a bounded timeout; a failed save is logged and does not roll back the
// in-memory update (the next successful save catches up).
func (l *Ledger) RecordTrade(betSize float64, outcome domain.TradeOutcome, profit float64, metrics domain.KellyMetrics) domain.TradeRecord {
	record := domain.TradeRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		BetSize:   betSize,
		Outcome:   outcome,
		Profit:    profit,
		Metrics:   metrics,
	}

	l.mu.Lock()
	l.state.Trades = append(l.state.Trades, record)
	l.state.Bankroll += profit
	l.state.Performance = l.recomputeLocked()
	l.state.UpdatedAt = record.Timestamp
	snapshot := l.copyStateLocked()
	l.mu.Unlock()

	l.logger.Info("trade recorded",
		slog.String("trade_id", record.ID),
		slog.String("outcome", string(outcome)),
		slog.Float64("profit", profit),
		slog.Float64("bankroll", snapshot.Bankroll),
	)

	if l.store != nil {
		go l.persist(snapshot)
	}
	return record
}

// persist writes the state snapshot with a bounded timeout.
func (l *Ledger) persist(state domain.BankrollState) {
	ctx, cancel := context.WithTimeout(context.Background(), l.saveTimeout)
	defer cancel()

	if err := l.store.Save(ctx, state); err != nil {
		l.logger.Warn("bankroll state save failed, continuing with in-memory state",
			slog.String("error", err.Error()),
		)
	}
}

// Performance returns the current aggregates.
func (l *Ledger) Performance() domain.PerformanceStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Performance
}

// Bankroll returns the current bankroll.
func (l *Ledger) Bankroll() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Bankroll
}

// Snapshot returns a deep copy of the full state.
func (l *Ledger) Snapshot() domain.BankrollState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyStateLocked()
}

func (l *Ledger) copyStateLocked() domain.BankrollState {
	state := l.state
	state.Trades = make([]domain.TradeRecord, len(l.state.Trades))
	copy(state.Trades, l.state.Trades)
	return state
}

// recomputeLocked derives all aggregates from the full trade history.
// Drawdowns are expressed as fractions of the peak bankroll so they compose
// directly with stake fractions.
func (l *Ledger) recomputeLocked() domain.PerformanceStats {
	var stats domain.PerformanceStats
	stats.TotalTrades = len(l.state.Trades)
	if stats.TotalTrades == 0 {
		return stats
	}

	var grossProfit, grossLoss float64
	var returns []float64
	bankroll := l.initialBankroll
	peak := bankroll
	var maxDD float64

	for _, tr := range l.state.Trades {
		stats.TotalProfit += tr.Profit
		if tr.Outcome == domain.TradeWin {
			stats.WinningTrades++
			grossProfit += tr.Profit
		} else {
			stats.LosingTrades++
			grossLoss += -tr.Profit
		}
		if tr.BetSize > 0 {
			returns = append(returns, tr.Profit/tr.BetSize)
		}

		bankroll += tr.Profit
		if bankroll > peak {
			peak = bankroll
		}
		if peak > 0 {
			if dd := (peak - bankroll) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	} else {
		stats.ProfitFactor = grossProfit
	}
	stats.MaxDrawdown = maxDD
	if peak > 0 {
		stats.CurrentDrawdown = (peak - bankroll) / peak
	}
	stats.SharpeRatio = sharpe(returns)
	return stats
}

// sharpe is the mean per-trade return over its standard deviation, 0 when the
// spread is 0.
func sharpe(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var m2 float64
	for _, r := range returns {
		d := r - mean
		m2 += d * d
	}
	std := math.Sqrt(m2 / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std
}
