package arbitrage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/quotes"
)

// ScanMetrics receives per-scan observability data.
type ScanMetrics interface {
	ObserveScan(duration time.Duration, marketsScanned, opportunitiesFound int)
}

// ScannerConfig holds the scan scheduler's parameters.
type ScannerConfig struct {
	Interval    time.Duration // default 1s
	MaxBetDelay time.Duration // freshness horizon for markets to evaluate
}

// Scanner triggers a full re-evaluation of all active markets on a fixed
// interval. Overlapping ticks are skipped entirely, never queued, so slow
// scans cannot pile up.
type Scanner struct {
	cfg        ScannerConfig
	store      *quotes.Store
	detector   *Detector
	registry   *Registry
	metrics    ScanMetrics // optional
	logger     *slog.Logger
	inProgress atomic.Bool
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig, store *quotes.Store, detector *Detector, registry *Registry, metrics ScanMetrics, logger *slog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Scanner{
		cfg:      cfg,
		store:    store,
		detector: detector,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "arb_scanner")),
	}
}

// Run executes scans on the configured interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("scanner stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scan unless a previous scan is still in flight, in which
// case the trigger is dropped.
func (s *Scanner) tick(ctx context.Context) {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.logger.Debug("scan still in progress, skipping tick")
		return
	}
	defer s.inProgress.Store(false)
	s.scan(ctx)
}

// scan evaluates every fresh market, feeding validated opportunities into the
// registry, then runs the expiry and staleness sweeps.
func (s *Scanner) scan(ctx context.Context) {
	start := time.Now()
	markets := s.store.ActiveMarkets(start, s.cfg.MaxBetDelay)

	found := 0
	for _, marketID := range markets {
		snap, err := s.store.Snapshot(marketID)
		if err != nil {
			// Evicted between listing and snapshot; nothing to do.
			continue
		}
		for _, opp := range s.detector.Detect(snap, time.Now()) {
			if err := s.detector.Validate(opp, time.Now()); err != nil {
				s.logger.Debug("opportunity discarded at re-validation",
					slog.String("opp_id", opp.ID),
					slog.String("reason", err.Error()),
				)
				continue
			}
			if err := s.registry.Accept(ctx, opp); err != nil {
				if err != domain.ErrAlreadyExists {
					s.logger.Warn("accept failed",
						slog.String("opp_id", opp.ID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			found++
		}
	}

	expired := s.registry.Sweep(ctx, time.Now())
	evicted := s.store.Sweep(time.Now())

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveScan(duration, len(markets), found)
	}
	s.logger.Debug("scan complete",
		slog.Duration("duration", duration),
		slog.Int("markets_scanned", len(markets)),
		slog.Int("opportunities_found", found),
		slog.Int("expired", expired),
		slog.Int("evicted", evicted),
	)
}
