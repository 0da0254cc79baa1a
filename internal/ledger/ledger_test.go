package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBankrollStore captures saves and serves a canned load.
type fakeBankrollStore struct {
	mu     sync.Mutex
	saved  []domain.BankrollState
	loaded *domain.BankrollState
	failed bool
	notify chan struct{}
}

func newFakeBankrollStore() *fakeBankrollStore {
	return &fakeBankrollStore{notify: make(chan struct{}, 16)}
}

func (f *fakeBankrollStore) Save(_ context.Context, state domain.BankrollState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.notify <- struct{}{} }()
	if f.failed {
		return errors.New("store down")
	}
	f.saved = append(f.saved, state)
	return nil
}

func (f *fakeBankrollStore) Load(context.Context) (domain.BankrollState, error) {
	if f.loaded == nil {
		return domain.BankrollState{}, domain.ErrNotFound
	}
	return *f.loaded, nil
}

func (f *fakeBankrollStore) ListTradesBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeBankrollStore) waitForSave(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for persistence")
	}
}

func TestRecordTradeUpdatesAggregates(t *testing.T) {
	l := New(10000, nil, testLogger())

	l.RecordTrade(100, domain.TradeWin, 150, domain.KellyMetrics{})
	l.RecordTrade(100, domain.TradeLoss, -100, domain.KellyMetrics{})
	l.RecordTrade(100, domain.TradeWin, 50, domain.KellyMetrics{})

	perf := l.Performance()
	if perf.TotalTrades != 3 || perf.WinningTrades != 2 || perf.LosingTrades != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1",
			perf.TotalTrades, perf.WinningTrades, perf.LosingTrades)
	}
	if math.Abs(perf.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("win rate = %v, want 2/3", perf.WinRate)
	}
	if math.Abs(perf.TotalProfit-100) > 1e-9 {
		t.Errorf("total profit = %v, want 100", perf.TotalProfit)
	}
	// Profit factor: gross profit 200 over gross loss 100.
	if math.Abs(perf.ProfitFactor-2.0) > 1e-9 {
		t.Errorf("profit factor = %v, want 2.0", perf.ProfitFactor)
	}
	if math.Abs(l.Bankroll()-10100) > 1e-9 {
		t.Errorf("bankroll = %v, want 10100", l.Bankroll())
	}
}

func TestMaxDrawdownIsPeakToTrough(t *testing.T) {
	l := New(1000, nil, testLogger())

	// Bankroll path: 1000 -> 1200 -> 900 -> 1100. Peak 1200, trough 900.
	l.RecordTrade(100, domain.TradeWin, 200, domain.KellyMetrics{})
	l.RecordTrade(100, domain.TradeLoss, -300, domain.KellyMetrics{})
	l.RecordTrade(100, domain.TradeWin, 200, domain.KellyMetrics{})

	perf := l.Performance()
	wantDD := (1200.0 - 900.0) / 1200.0
	if math.Abs(perf.MaxDrawdown-wantDD) > 1e-9 {
		t.Errorf("max drawdown = %v, want %v", perf.MaxDrawdown, wantDD)
	}
	wantCur := (1200.0 - 1100.0) / 1200.0
	if math.Abs(perf.CurrentDrawdown-wantCur) > 1e-9 {
		t.Errorf("current drawdown = %v, want %v", perf.CurrentDrawdown, wantCur)
	}
}

func TestTradeRecordsAreAppendOnly(t *testing.T) {
	l := New(1000, nil, testLogger())
	first := l.RecordTrade(50, domain.TradeWin, 60, domain.KellyMetrics{})
	l.RecordTrade(50, domain.TradeLoss, -50, domain.KellyMetrics{})

	snap := l.Snapshot()
	if len(snap.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(snap.Trades))
	}
	if snap.Trades[0].ID != first.ID {
		t.Errorf("history order changed")
	}

	// Mutating the snapshot must not reach the ledger.
	snap.Trades[0].Profit = 9999
	if l.Snapshot().Trades[0].Profit != 60 {
		t.Error("snapshot aliases ledger state")
	}
}

func TestRecordTradePersists(t *testing.T) {
	store := newFakeBankrollStore()
	l := New(1000, store, testLogger())

	l.RecordTrade(100, domain.TradeWin, 120, domain.KellyMetrics{})
	store.waitForSave(t)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 save, got %d", len(store.saved))
	}
	if store.saved[0].Bankroll != 1120 {
		t.Errorf("persisted bankroll = %v, want 1120", store.saved[0].Bankroll)
	}
	if len(store.saved[0].Trades) != 1 {
		t.Errorf("persisted %d trades, want 1", len(store.saved[0].Trades))
	}
}

func TestSaveFailureDoesNotRollBack(t *testing.T) {
	store := newFakeBankrollStore()
	store.failed = true
	l := New(1000, store, testLogger())

	l.RecordTrade(100, domain.TradeWin, 120, domain.KellyMetrics{})
	store.waitForSave(t)

	if l.Bankroll() != 1120 {
		t.Errorf("bankroll = %v, want 1120 despite save failure", l.Bankroll())
	}
	if l.Performance().TotalTrades != 1 {
		t.Errorf("in-memory history must survive a failed save")
	}
}

func TestLoadRestoresState(t *testing.T) {
	store := newFakeBankrollStore()
	store.loaded = &domain.BankrollState{
		Bankroll: 2500,
		Trades: []domain.TradeRecord{
			{ID: "t1", BetSize: 100, Outcome: domain.TradeWin, Profit: 150},
		},
		Performance: domain.PerformanceStats{TotalTrades: 1, WinningTrades: 1, WinRate: 1},
	}

	l := New(1000, store, testLogger())
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Bankroll() != 2500 {
		t.Errorf("bankroll = %v, want restored 2500", l.Bankroll())
	}
	if l.Performance().TotalTrades != 1 {
		t.Errorf("performance not restored")
	}
}

func TestLoadMissingStateStartsFresh(t *testing.T) {
	store := newFakeBankrollStore()
	l := New(1000, store, testLogger())
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("missing state must not error: %v", err)
	}
	if l.Bankroll() != 1000 {
		t.Errorf("bankroll = %v, want fresh 1000", l.Bankroll())
	}
}
