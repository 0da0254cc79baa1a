package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/kelly"
	"github.com/alanyoungcy/oddsarb/internal/ledger"
)

// predictionEvent is the JSON shape the external prediction provider
// publishes on the "predictions" channel.
type predictionEvent struct {
	MarketID    string  `json:"market_id"`
	Probability float64 `json:"probability"`
	Odds        float64 `json:"odds"`
}

// AdvisorService consumes win-probability estimates, runs them through the
// Kelly engine, and publishes stake recommendations for the external
// execution collaborator.
type AdvisorService struct {
	bus    domain.SignalBus
	engine *kelly.Engine
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewAdvisorService creates an AdvisorService.
func NewAdvisorService(bus domain.SignalBus, engine *kelly.Engine, ldgr *ledger.Ledger, logger *slog.Logger) *AdvisorService {
	return &AdvisorService{
		bus:    bus,
		engine: engine,
		ledger: ldgr,
		logger: logger.With(slog.String("component", "advisor_service")),
	}
}

// Run subscribes to "predictions" and processes events until ctx is
// cancelled.
func (a *AdvisorService) Run(ctx context.Context) error {
	ch, err := a.bus.Subscribe(ctx, "predictions")
	if err != nil {
		return err
	}
	a.logger.Info("advisor service started")
	defer a.logger.Info("advisor service stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			a.handleMessage(ctx, data)
		}
	}
}

func (a *AdvisorService) handleMessage(ctx context.Context, data []byte) {
	var ev predictionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.logger.Warn("dropping unparseable prediction event",
			slog.String("error", err.Error()),
		)
		return
	}

	metrics := a.engine.Analyze(ev.Probability, ev.Odds)
	place := a.engine.ShouldPlaceBet(metrics)
	betSize := 0.0
	if place {
		betSize = a.engine.BetSize(metrics, a.ledger.Bankroll())
	}

	out, _ := json.Marshal(map[string]any{
		"event":          "stake_recommendation",
		"market_id":      ev.MarketID,
		"place_bet":      place,
		"bet_size":       betSize,
		"fraction":       metrics.Fraction,
		"expected_value": metrics.ExpectedValue,
		"confidence":     metrics.Confidence,
		"volatility":     metrics.Volatility,
	})
	if err := a.bus.Publish(ctx, "stakes", out); err != nil {
		a.logger.Warn("publish recommendation failed",
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.Debug("stake recommendation published",
		slog.String("market_id", ev.MarketID),
		slog.Bool("place_bet", place),
		slog.Float64("bet_size", betSize),
	)
}
