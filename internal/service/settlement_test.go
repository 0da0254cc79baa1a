package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/ledger"
	"github.com/alanyoungcy/oddsarb/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBus is an in-memory SignalBus capturing publishes.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func newTestRegistry() *arbitrage.Registry {
	return arbitrage.NewRegistry(arbitrage.RegistryConfig{
		MaxBetDelay: 30 * time.Second,
		Logger:      testLogger(),
	})
}

func acceptOpp(t *testing.T, r *arbitrage.Registry, id string) {
	t.Helper()
	err := r.Accept(context.Background(), domain.ArbitrageOpportunity{
		ID:         id,
		MarketID:   "m1",
		DetectedAt: time.Now(),
		Legs: []domain.OpportunityLeg{
			{BookID: "a", Odds: 2.5, Stake: 400, MaxStake: 1000},
			{BookID: "b", Odds: 2.2, Stake: 600, MaxStake: 1000},
		},
		Status: domain.OpportunityPending,
	})
	if err != nil {
		t.Fatalf("accept fixture: %v", err)
	}
}

func TestSettleOpportunitySuccess(t *testing.T) {
	registry := newTestRegistry()
	acceptOpp(t, registry, "opp-1")
	svc := NewSettlementService(newFakeBus(), registry, ledger.New(1000, nil, testLogger()), nil, testLogger())

	msg, _ := json.Marshal(map[string]any{
		"event":   "opportunity_settled",
		"opp_id":  "opp-1",
		"outcome": "success",
	})
	svc.handleMessage(context.Background(), msg)

	if registry.ActiveCount() != 0 {
		t.Errorf("settled opportunity must leave the active set")
	}
}

func TestSettleOpportunityFailure(t *testing.T) {
	registry := newTestRegistry()
	acceptOpp(t, registry, "opp-1")
	svc := NewSettlementService(newFakeBus(), registry, ledger.New(1000, nil, testLogger()), nil, testLogger())

	msg, _ := json.Marshal(map[string]any{
		"event":   "opportunity_settled",
		"opp_id":  "opp-1",
		"outcome": "failure",
	})
	svc.handleMessage(context.Background(), msg)

	if registry.ActiveCount() != 0 {
		t.Errorf("failed opportunity must leave the active set")
	}
}

func TestSettleUnknownOpportunityIsRoutine(t *testing.T) {
	registry := newTestRegistry()
	svc := NewSettlementService(newFakeBus(), registry, ledger.New(1000, nil, testLogger()), nil, testLogger())

	msg, _ := json.Marshal(map[string]any{
		"event":   "opportunity_settled",
		"opp_id":  "missing",
		"outcome": "success",
	})
	// Must not panic or alter state.
	svc.handleMessage(context.Background(), msg)
	if registry.ActiveCount() != 0 {
		t.Errorf("unexpected registry state change")
	}
}

func TestSettleTradeUpdatesLedger(t *testing.T) {
	ldgr := ledger.New(1000, nil, testLogger())
	svc := NewSettlementService(newFakeBus(), newTestRegistry(), ldgr, nil, testLogger())

	msg, _ := json.Marshal(map[string]any{
		"event":    "trade_settled",
		"outcome":  "win",
		"bet_size": 100.0,
		"profit":   120.0,
	})
	svc.handleMessage(context.Background(), msg)

	if ldgr.Bankroll() != 1120 {
		t.Errorf("bankroll = %v, want 1120", ldgr.Bankroll())
	}
	if ldgr.Performance().TotalTrades != 1 {
		t.Errorf("trade not recorded")
	}
}

func TestSettleTradeRejectsNonPositiveBetSize(t *testing.T) {
	ldgr := ledger.New(1000, nil, testLogger())
	svc := NewSettlementService(newFakeBus(), newTestRegistry(), ldgr, nil, testLogger())

	msg, _ := json.Marshal(map[string]any{
		"event":   "trade_settled",
		"outcome": "loss",
		"profit":  -50.0,
	})
	svc.handleMessage(context.Background(), msg)

	if ldgr.Performance().TotalTrades != 0 {
		t.Errorf("malformed settlement must be dropped")
	}
}

func TestMalformedSettlementIsDropped(t *testing.T) {
	registry := newTestRegistry()
	acceptOpp(t, registry, "opp-1")
	svc := NewSettlementService(newFakeBus(), registry, ledger.New(1000, nil, testLogger()), nil, testLogger())

	svc.handleMessage(context.Background(), []byte("{not json"))

	if registry.ActiveCount() != 1 {
		t.Errorf("malformed event must not alter state")
	}
}

// countingNotifier records the event names it is asked to deliver.
type countingNotifier struct {
	events []string
}

func (n *countingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

func TestDrawdownAlertFiresOncePerExcursion(t *testing.T) {
	ldgr := ledger.New(1000, nil, testLogger())
	svc := NewSettlementService(newFakeBus(), newTestRegistry(), ldgr, nil, testLogger())
	alerts := &countingNotifier{}
	svc.SetDrawdownAlert(alerts, 0.20)

	settle := func(outcome string, profit float64) {
		msg, _ := json.Marshal(map[string]any{
			"event":    "trade_settled",
			"outcome":  outcome,
			"bet_size": 100.0,
			"profit":   profit,
		})
		svc.handleMessage(context.Background(), msg)
	}

	// Bankroll 1000 -> 700, drawdown 30% crosses the 20% limit.
	settle("loss", -300)
	if len(alerts.events) != 1 || alerts.events[0] != notify.EventDrawdown {
		t.Fatalf("events = %v, want one drawdown alert", alerts.events)
	}

	// Still above the limit; the alert stays latched.
	settle("loss", -100)
	if len(alerts.events) != 1 {
		t.Fatalf("events = %v, alert must not repeat while above the limit", alerts.events)
	}

	// Recovery to 950 (5% drawdown) re-arms the alert.
	settle("win", 350)
	settle("loss", -300)
	if len(alerts.events) != 2 {
		t.Errorf("events = %v, want a second alert after recovery and re-breach", alerts.events)
	}
}
