package arbitrage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/notify"
)

// fakeOppStore records store calls for assertions. onUpdate, when set, runs
// once on the next UpdateStatus call, outside the fake's lock.
type fakeOppStore struct {
	mu       sync.Mutex
	inserted []domain.ArbitrageOpportunity
	statuses map[string]domain.OpportunityStatus
	failAll  bool
	onUpdate func(id string)
}

func newFakeOppStore() *fakeOppStore {
	return &fakeOppStore{statuses: make(map[string]domain.OpportunityStatus)}
}

func (f *fakeOppStore) Insert(_ context.Context, opp domain.ArbitrageOpportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("store down")
	}
	f.inserted = append(f.inserted, opp)
	return nil
}

func (f *fakeOppStore) UpdateStatus(_ context.Context, id string, status domain.OpportunityStatus) error {
	f.mu.Lock()
	if f.failAll {
		f.mu.Unlock()
		return errors.New("store down")
	}
	f.statuses[id] = status
	hook := f.onUpdate
	f.onUpdate = nil
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return nil
}

func (f *fakeOppStore) GetByID(context.Context, string) (domain.ArbitrageOpportunity, error) {
	return domain.ArbitrageOpportunity{}, domain.ErrNotFound
}

func (f *fakeOppStore) ListRecent(context.Context, int) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func (f *fakeOppStore) ListBefore(context.Context, time.Time) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func pendingOpp(id string, detectedAt time.Time) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		ID:           id,
		MarketID:     "m1",
		DetectedAt:   detectedAt,
		ProfitMargin: 0.05,
		TotalStake:   1000,
		Legs: []domain.OpportunityLeg{
			{BookID: "bookA", Odds: 2.5, Stake: 468, MaxStake: 1000},
			{BookID: "bookB", Odds: 2.2, Stake: 532, MaxStake: 1000},
		},
		Risk:   domain.RiskProfile{Exposure: 1000, Confidence: 0.9, TimeSensitivity: 0.5},
		Status: domain.OpportunityPending,
	}
}

func newTestRegistry(store domain.OpportunityStore) *Registry {
	return NewRegistry(RegistryConfig{
		MaxBetDelay: 30 * time.Second,
		Store:       store,
		Logger:      testLogger(),
	})
}

func TestAcceptAndPending(t *testing.T) {
	ctx := context.Background()
	store := newFakeOppStore()
	r := newTestRegistry(store)
	now := time.Now()

	if err := r.Accept(ctx, pendingOpp("opp-1", now)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := r.Accept(ctx, pendingOpp("opp-2", now.Add(time.Second))); err != nil {
		t.Fatalf("accept: %v", err)
	}

	opps := r.Pending()
	if len(opps) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(opps))
	}
	if opps[0].ID != "opp-2" {
		t.Errorf("expected newest first, got %s", opps[0].ID)
	}
	if len(store.inserted) != 2 {
		t.Errorf("expected 2 store inserts, got %d", len(store.inserted))
	}
}

func TestAcceptDuplicate(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(nil)
	now := time.Now()

	_ = r.Accept(ctx, pendingOpp("opp-1", now))
	if err := r.Accept(ctx, pendingOpp("opp-1", now)); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", r.ActiveCount())
	}
}

func TestResolveTransitions(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    domain.OpportunityStatus
	}{
		{"settlement success", true, domain.OpportunityExecuted},
		{"settlement failure", false, domain.OpportunityFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newFakeOppStore()
			r := newTestRegistry(store)
			_ = r.Accept(ctx, pendingOpp("opp-1", time.Now()))

			if err := r.Resolve(ctx, "opp-1", tt.success); err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if r.ActiveCount() != 0 {
				t.Errorf("terminal opportunity must leave the active set")
			}
			if store.statuses["opp-1"] != tt.want {
				t.Errorf("persisted status = %v, want %v", store.statuses["opp-1"], tt.want)
			}
		})
	}
}

func TestResolveUnknownID(t *testing.T) {
	r := newTestRegistry(nil)
	if err := r.Resolve(context.Background(), "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpiresOldPending(t *testing.T) {
	ctx := context.Background()
	store := newFakeOppStore()
	r := newTestRegistry(store)
	now := time.Now()

	_ = r.Accept(ctx, pendingOpp("old", now.Add(-time.Minute)))
	_ = r.Accept(ctx, pendingOpp("fresh", now))

	if expired := r.Sweep(ctx, now); expired != 1 {
		t.Fatalf("expected 1 expiry, got %d", expired)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", r.ActiveCount())
	}
	if store.statuses["old"] != domain.OpportunityExpired {
		t.Errorf("persisted status = %v, want expired", store.statuses["old"])
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(nil)
	now := time.Now()
	_ = r.Accept(ctx, pendingOpp("old", now.Add(-time.Minute)))

	if expired := r.Sweep(ctx, now); expired != 1 {
		t.Fatalf("first sweep: expected 1 expiry, got %d", expired)
	}
	before := r.ActiveCount()
	if expired := r.Sweep(ctx, now); expired != 0 {
		t.Fatalf("second sweep must be a no-op, expired %d", expired)
	}
	if r.ActiveCount() != before {
		t.Errorf("second sweep changed state: %d -> %d", before, r.ActiveCount())
	}
}

func TestAcceptSurvivesStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeOppStore()
	store.failAll = true
	r := newTestRegistry(store)

	if err := r.Accept(ctx, pendingOpp("opp-1", time.Now())); err != nil {
		t.Fatalf("store failure must not fail the accept: %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("in-memory accept must stand despite persistence failure")
	}
}

// fakeSender captures deliveries that pass the notifier's event filter.
type fakeSender struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

// defaultEventNotifier builds a real Notifier with the shipped default
// events list, so the registry's event names are checked against the
// filter an operator actually configures.
func defaultEventNotifier(sender notify.Sender) *notify.Notifier {
	events := []string{notify.EventArbitrage, notify.EventSettlement, notify.EventDrawdown}
	return notify.NewNotifier([]notify.Sender{sender}, events, testLogger())
}

func TestAcceptNotifiesUnderDefaultEvents(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	r := NewRegistry(RegistryConfig{
		MaxBetDelay: 30 * time.Second,
		Notifier:    defaultEventNotifier(sender),
		Logger:      testLogger(),
	})

	if err := r.Accept(ctx, pendingOpp("opp-1", time.Now())); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := sender.count(); got != 1 {
		t.Fatalf("expected 1 notification for accepted opportunity, got %d", got)
	}
}

func TestTerminalTransitionNotifies(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	r := NewRegistry(RegistryConfig{
		MaxBetDelay: 30 * time.Second,
		Notifier:    defaultEventNotifier(sender),
		Logger:      testLogger(),
	})
	now := time.Now()

	_ = r.Accept(ctx, pendingOpp("settled", now))
	_ = r.Accept(ctx, pendingOpp("expired", now.Add(-time.Minute)))

	if err := r.Resolve(ctx, "settled", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Sweep(ctx, now) != 1 {
		t.Fatal("expected the old opportunity to expire")
	}

	// Two accepts plus two terminal transitions.
	if got := sender.count(); got != 4 {
		t.Errorf("expected 4 notifications, got %d (titles: %v)", got, sender.titles)
	}
}

func TestSweepCountsOnlySuccessfulExpiries(t *testing.T) {
	ctx := context.Background()
	store := newFakeOppStore()
	r := newTestRegistry(store)
	old := time.Now().Add(-time.Minute)

	_ = r.Accept(ctx, pendingOpp("opp-1", old))
	_ = r.Accept(ctx, pendingOpp("opp-2", old))

	// While the sweep's first expiry is being persisted, a settlement
	// resolves the other candidate out from under it.
	store.onUpdate = func(id string) {
		other := "opp-2"
		if id == "opp-2" {
			other = "opp-1"
		}
		if err := r.Resolve(ctx, other, true); err != nil {
			t.Errorf("concurrent resolve: %v", err)
		}
	}

	if expired := r.Sweep(ctx, time.Now()); expired != 1 {
		t.Errorf("sweep count = %d, want 1 (the settled candidate is not an expiry)", expired)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", r.ActiveCount())
	}
}
