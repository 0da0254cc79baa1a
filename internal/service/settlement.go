// Package service hosts the bus-driven consumers that close the loop between
// the core and its external collaborators: settlement results in, stake
// recommendations out.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/ledger"
	"github.com/alanyoungcy/oddsarb/internal/notify"
)

// settlementEvent is the JSON shape of settlement notifications on the
// "settlements" channel. Two event kinds share it: opportunity_settled
// carries opp_id + outcome, trade_settled carries bet_size + outcome +
// profit.
type settlementEvent struct {
	Event         string  `json:"event"`
	OpportunityID string  `json:"opp_id"`
	Outcome       string  `json:"outcome"` // "success"/"failure" or "win"/"loss"
	BetSize       float64 `json:"bet_size"`
	Profit        float64 `json:"profit"`
}

// LedgerMetrics receives trade settlement observability data.
type LedgerMetrics interface {
	SetBankroll(v float64)
	TradeRecorded(outcome string)
}

// Notifier is the slice of the notification system the service needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementService consumes settlement notifications and drives registry
// transitions and ledger updates.
type SettlementService struct {
	bus      domain.SignalBus
	registry *arbitrage.Registry
	ledger   *ledger.Ledger
	metrics  LedgerMetrics // optional
	logger   *slog.Logger

	notifier      Notifier // optional, see SetDrawdownAlert
	drawdownLimit float64
	ddAlerted     bool
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(bus domain.SignalBus, registry *arbitrage.Registry, ldgr *ledger.Ledger, metrics LedgerMetrics, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		bus:      bus,
		registry: registry,
		ledger:   ldgr,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// SetDrawdownAlert arranges a drawdown notification whenever a settled trade
// pushes the current drawdown past limit. The alert re-arms once the
// drawdown recovers below the limit. Call before Run.
func (s *SettlementService) SetDrawdownAlert(n Notifier, limit float64) {
	if n == nil || limit <= 0 {
		return
	}
	s.notifier = n
	s.drawdownLimit = limit
}

// Run subscribes to "settlements" and processes events until ctx is
// cancelled.
func (s *SettlementService) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, "settlements")
	if err != nil {
		return err
	}
	s.logger.Info("settlement service started")
	defer s.logger.Info("settlement service stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(ctx, data)
		}
	}
}

func (s *SettlementService) handleMessage(ctx context.Context, data []byte) {
	var ev settlementEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("dropping unparseable settlement event",
			slog.String("error", err.Error()),
		)
		return
	}

	switch ev.Event {
	case "opportunity_settled":
		s.settleOpportunity(ctx, ev)
	case "trade_settled":
		s.settleTrade(ctx, ev)
	default:
		s.logger.Debug("ignoring unknown settlement event",
			slog.String("event", ev.Event),
		)
	}
}

func (s *SettlementService) settleOpportunity(ctx context.Context, ev settlementEvent) {
	if ev.OpportunityID == "" {
		s.logger.Warn("opportunity settlement without opp_id, dropped")
		return
	}
	success := ev.Outcome == "success"
	if err := s.registry.Resolve(ctx, ev.OpportunityID, success); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Already expired or settled; routine, not a fault.
			s.logger.Debug("settlement for unknown opportunity",
				slog.String("opp_id", ev.OpportunityID),
			)
			return
		}
		s.logger.Warn("resolve failed",
			slog.String("opp_id", ev.OpportunityID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) settleTrade(ctx context.Context, ev settlementEvent) {
	if ev.BetSize <= 0 {
		s.logger.Warn("trade settlement with non-positive bet size, dropped",
			slog.Float64("bet_size", ev.BetSize),
		)
		return
	}
	outcome := domain.TradeLoss
	if ev.Outcome == "win" || ev.Outcome == "success" {
		outcome = domain.TradeWin
	}
	s.ledger.RecordTrade(ev.BetSize, outcome, ev.Profit, domain.KellyMetrics{})

	if s.metrics != nil {
		s.metrics.SetBankroll(s.ledger.Bankroll())
		s.metrics.TradeRecorded(string(outcome))
	}

	s.checkDrawdown(ctx)
}

// checkDrawdown alerts once per excursion above the drawdown limit.
func (s *SettlementService) checkDrawdown(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	dd := s.ledger.Performance().CurrentDrawdown
	if dd < s.drawdownLimit {
		s.ddAlerted = false
		return
	}
	if s.ddAlerted {
		return
	}
	s.ddAlerted = true

	title := fmt.Sprintf("Drawdown %.1f%% exceeds limit %.1f%%", dd*100, s.drawdownLimit*100)
	msg := fmt.Sprintf("bankroll %.2f, betting is gated until performance recovers", s.ledger.Bankroll())
	if err := s.notifier.Notify(ctx, notify.EventDrawdown, title, msg); err != nil {
		s.logger.WarnContext(ctx, "drawdown notify failed",
			slog.String("error", err.Error()),
		)
	}
}
