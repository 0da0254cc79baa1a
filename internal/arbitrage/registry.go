package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/notify"
)

// Notifier is the slice of the notification system the registry needs.
// Event names come from the notify package constants so they line up with
// the operator's configured event filter.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Registry owns the lifecycle of detected opportunities: pending on
// acceptance, then executed, failed, or expired. Terminal opportunities are
// removed from the active set immediately; history lives in the store.
type Registry struct {
	mu     sync.RWMutex
	active map[string]domain.ArbitrageOpportunity

	maxBetDelay time.Duration
	store       domain.OpportunityStore // optional
	bus         domain.SignalBus        // optional
	audit       domain.AuditStore       // optional
	notifier    Notifier                // optional
	logger      *slog.Logger
}

// RegistryConfig bundles the registry's dependencies. Store, Bus, Audit, and
// Notifier may be nil; the registry then operates purely in memory.
type RegistryConfig struct {
	MaxBetDelay time.Duration
	Store       domain.OpportunityStore
	Bus         domain.SignalBus
	Audit       domain.AuditStore
	Notifier    Notifier
	Logger      *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		active:      make(map[string]domain.ArbitrageOpportunity),
		maxBetDelay: cfg.MaxBetDelay,
		store:       cfg.Store,
		bus:         cfg.Bus,
		audit:       cfg.Audit,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger.With(slog.String("component", "arb_registry")),
	}
}

// Accept adds a validated opportunity to the active set, persists it, and
// publishes an arb_detected event. Persistence and publish failures are
// logged; the in-memory accept stands regardless.
func (r *Registry) Accept(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	r.mu.Lock()
	if _, exists := r.active[opp.ID]; exists {
		r.mu.Unlock()
		return domain.ErrAlreadyExists
	}
	opp.Status = domain.OpportunityPending
	r.active[opp.ID] = opp
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Insert(ctx, opp); err != nil {
			r.logger.WarnContext(ctx, "persist opportunity failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":           "arb_detected",
			"opp_id":          opp.ID,
			"market_id":       opp.MarketID,
			"profit_margin":   opp.ProfitMargin,
			"total_stake":     opp.TotalStake,
			"expected_profit": opp.ExpectedProfit,
		})
		if err := r.bus.Publish(ctx, "arb", evt); err != nil {
			r.logger.WarnContext(ctx, "publish arb event failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, "arb_accepted", map[string]any{
			"opp_id":        opp.ID,
			"market_id":     opp.MarketID,
			"profit_margin": opp.ProfitMargin,
			"total_stake":   opp.TotalStake,
		}); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier != nil {
		title := fmt.Sprintf("Arbitrage: %.2f%% margin on %s", opp.ProfitMargin*100, opp.MarketID)
		msg := fmt.Sprintf("%s vs %s, stake %.2f, expected profit %.2f",
			opp.Legs[0].BookID, opp.Legs[1].BookID, opp.TotalStake, opp.ExpectedProfit)
		if err := r.notifier.Notify(ctx, notify.EventArbitrage, title, msg); err != nil {
			r.logger.WarnContext(ctx, "notify failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.InfoContext(ctx, "opportunity accepted",
		slog.String("opp_id", opp.ID),
		slog.String("market_id", opp.MarketID),
		slog.Float64("profit_margin", opp.ProfitMargin),
		slog.Float64("expected_profit", opp.ExpectedProfit),
	)
	return nil
}

// Pending returns the active (pending-only) opportunities, newest first.
func (r *Registry) Pending() []domain.ArbitrageOpportunity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	opps := make([]domain.ArbitrageOpportunity, 0, len(r.active))
	for _, opp := range r.active {
		opps = append(opps, opp)
	}
	sort.Slice(opps, func(i, j int) bool {
		return opps[i].DetectedAt.After(opps[j].DetectedAt)
	})
	return opps
}

// Get returns an active opportunity by id, or domain.ErrNotFound.
func (r *Registry) Get(id string) (domain.ArbitrageOpportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opp, ok := r.active[id]
	if !ok {
		return domain.ArbitrageOpportunity{}, domain.ErrNotFound
	}
	return opp, nil
}

// Resolve transitions a pending opportunity to executed (success) or failed,
// driven by an external settlement notification. Unknown ids yield
// domain.ErrNotFound; settlement of an already-terminal opportunity is a
// routine no-op for the caller to log, not a fault.
func (r *Registry) Resolve(ctx context.Context, id string, success bool) error {
	status := domain.OpportunityFailed
	if success {
		status = domain.OpportunityExecuted
	}
	return r.transition(ctx, id, status)
}

// Sweep expires every pending opportunity older than maxBetDelay. It is
// idempotent: a second sweep with no new settlements changes nothing.
// Returns the number of opportunities actually expired; a candidate that a
// concurrent settlement resolved first is not counted.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	r.mu.RLock()
	var candidates []string
	for id, opp := range r.active {
		if opp.Age(now) > r.maxBetDelay {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	expired := 0
	for _, id := range candidates {
		if err := r.transition(ctx, id, domain.OpportunityExpired); err != nil {
			// Raced with a concurrent settlement; already terminal.
			continue
		}
		expired++
	}
	return expired
}

// transition removes the opportunity from the active set under the given
// terminal status and records the transition downstream.
func (r *Registry) transition(ctx context.Context, id string, status domain.OpportunityStatus) error {
	r.mu.Lock()
	opp, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(r.active, id)
	r.mu.Unlock()

	opp.Status = status

	if r.store != nil {
		if err := r.store.UpdateStatus(ctx, id, status); err != nil {
			r.logger.WarnContext(ctx, "persist status failed",
				slog.String("opp_id", id),
				slog.String("status", string(status)),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, "arb_"+string(status), map[string]any{
			"opp_id":    id,
			"market_id": opp.MarketID,
		}); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("opp_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier != nil {
		title := fmt.Sprintf("Opportunity %s on %s", status, opp.MarketID)
		msg := fmt.Sprintf("%s left the active set as %s, expected profit was %.2f",
			id, status, opp.ExpectedProfit)
		if err := r.notifier.Notify(ctx, notify.EventSettlement, title, msg); err != nil {
			r.logger.WarnContext(ctx, "notify failed",
				slog.String("opp_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.InfoContext(ctx, "opportunity resolved",
		slog.String("opp_id", id),
		slog.String("status", string(status)),
	)
	return nil
}

// ActiveCount returns the size of the active set.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
