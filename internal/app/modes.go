package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/feed"
	"github.com/alanyoungcy/oddsarb/internal/kelly"
	"github.com/alanyoungcy/oddsarb/internal/ledger"
	"github.com/alanyoungcy/oddsarb/internal/quotes"
	"github.com/alanyoungcy/oddsarb/internal/service"
)

// pipeline holds the core components shared by every mode: quote intake,
// detection, and the performance ledger.
type pipeline struct {
	store    *quotes.Store
	detector *arbitrage.Detector
	registry *arbitrage.Registry
	scanner  *arbitrage.Scanner
	feeder   *feed.QuoteFeeder
	wsFeed   *feed.OddsWSFeed // nil when no ws_host is configured
	ledger   *ledger.Ledger
	engine   *kelly.Engine
}

// buildPipeline wires the core components and restores the ledger state.
func (a *App) buildPipeline(ctx context.Context, deps *Dependencies) (*pipeline, error) {
	store := quotes.New(a.cfg.Quotes.StaleWindow.Duration, a.logger)

	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		MinProfitMargin: a.cfg.Arbitrage.MinProfitMargin,
		MinOdds:         a.cfg.Arbitrage.MinOdds,
		MaxOdds:         a.cfg.Arbitrage.MaxOdds,
		MaxExposure:     a.cfg.Arbitrage.MaxExposure,
		MaxBetDelay:     a.cfg.Arbitrage.MaxBetDelay.Duration,
	}, a.logger)

	registry := arbitrage.NewRegistry(arbitrage.RegistryConfig{
		MaxBetDelay: a.cfg.Arbitrage.MaxBetDelay.Duration,
		Store:       deps.OpportunityStore,
		Bus:         deps.SignalBus,
		Audit:       deps.AuditStore,
		Notifier:    deps.Notifier,
		Logger:      a.logger,
	})

	scanner := arbitrage.NewScanner(arbitrage.ScannerConfig{
		Interval:    a.cfg.Arbitrage.ScanInterval.Duration,
		MaxBetDelay: a.cfg.Arbitrage.MaxBetDelay.Duration,
	}, store, detector, registry, deps.Metrics, a.logger)

	feeder := feed.NewQuoteFeeder(feed.QuoteFeederConfig{
		Bus:      deps.SignalBus,
		Store:    store,
		Cache:    deps.QuoteCache,
		Detector: detector,
		Registry: registry,
		Metrics:  deps.Metrics,
		CacheTTL: a.cfg.Feed.CacheTTL.Duration,
		Logger:   a.logger,
	})

	var wsFeed *feed.OddsWSFeed
	if a.cfg.Feed.WSHost != "" {
		wsFeed = feed.NewOddsWSFeed(
			a.cfg.Feed.WSHost,
			a.cfg.Feed.Markets,
			a.cfg.Feed.ReconnectDelay.Duration,
			deps.SignalBus,
			a.logger,
		)
	} else {
		a.logger.Info("no feed ws_host configured, expecting quotes published to the bus externally")
	}

	ldgr := ledger.New(a.cfg.Ledger.InitialBankroll, deps.BankrollStore, a.logger)
	ldgr.SetSaveTimeout(a.cfg.Ledger.SaveTimeout.Duration)
	if err := ldgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("app: restore ledger: %w", err)
	}
	deps.Metrics.SetBankroll(ldgr.Bankroll())

	engine := kelly.NewEngine(kelly.Config{
		MinSize:             a.cfg.Kelly.MinBetSize,
		MaxSize:             a.cfg.Kelly.MaxBetSize,
		BaseSize:            a.cfg.Kelly.BaseBetSize,
		DrawdownLimit:       a.cfg.Kelly.DrawdownLimit,
		MinConfidence:       a.cfg.Kelly.MinConfidence,
		RiskTolerance:       a.cfg.Kelly.RiskTolerance,
		VolatilityThreshold: a.cfg.Kelly.VolatilityThreshold,
		RiskFreeRate:        a.cfg.Kelly.RiskFreeRate,
		MaxRiskPerTrade:     a.cfg.Kelly.MaxRiskPerTrade,
		Sizing:              sizingFromString(a.cfg.Kelly.Sizing),
		Bankroll:            bankrollFromString(a.cfg.Kelly.BankrollMethod),
		PredictionWindow:    a.cfg.Kelly.PredictionWindow,
	}, ldgr, a.logger)

	return &pipeline{
		store:    store,
		detector: detector,
		registry: registry,
		scanner:  scanner,
		feeder:   feeder,
		wsFeed:   wsFeed,
		ledger:   ldgr,
		engine:   engine,
	}, nil
}

// sizingFromString maps a config value onto the domain constant. Validation
// has already rejected unknown values.
func sizingFromString(s string) domain.PositionSizing {
	switch strings.ToLower(s) {
	case "fixed":
		return domain.SizingFixed
	case "adaptive":
		return domain.SizingAdaptive
	default:
		return domain.SizingDynamic
	}
}

func bankrollFromString(s string) domain.BankrollMethod {
	switch strings.ToLower(s) {
	case "progressive":
		return domain.BankrollProgressive
	case "adaptive":
		return domain.BankrollAdaptive
	default:
		return domain.BankrollFixed
	}
}

// ScanMode runs quote intake and periodic detection: the feed, the quote
// feeder, and the scanner. Detected opportunities are persisted and published
// but never sized.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	p, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, p, deps)
	return g.Wait()
}

// FullMode runs everything scan mode runs plus the stake advisor, the
// settlement consumer, and the cold storage archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	p, err := a.buildPipeline(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, p, deps)

	settlement := service.NewSettlementService(deps.SignalBus, p.registry, p.ledger, deps.Metrics, a.logger)
	settlement.SetDrawdownAlert(deps.Notifier, a.cfg.Kelly.DrawdownLimit)
	g.Go(func() error {
		return settlement.Run(ctx)
	})

	advisor := service.NewAdvisorService(deps.SignalBus, p.engine, p.ledger, a.logger)
	g.Go(func() error {
		return advisor.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// startCore launches the goroutines common to both modes.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, p *pipeline, deps *Dependencies) {
	g.Go(func() error {
		return p.feeder.Run(ctx)
	})
	g.Go(func() error {
		return p.scanner.Run(ctx)
	})
	if p.wsFeed != nil {
		g.Go(func() error {
			return p.wsFeed.Run(ctx)
		})
	}
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.runMetricsServer(ctx, deps)
		})
	}
}

// runMetricsServer serves the Prometheus registry on /metrics until the
// context is cancelled.
func (a *App) runMetricsServer(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics server listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: metrics server: %w", err)
	}
	return ctx.Err()
}

// runArchiveLoop periodically pages trades and opportunity history older than
// the retention window out to object storage.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)

			n, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "trade archive failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived trades", slog.Int64("count", n))
			}

			n, err = deps.Archiver.ArchiveOpportunities(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "opportunity archive failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived opportunities", slog.Int64("count", n))
			}
		}
	}
}
