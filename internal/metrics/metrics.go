// Package metrics exposes Prometheus instrumentation for the scan loop and
// the bankroll.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles all collectors. Constructed once and shared; registering
// against an injected registry keeps test instances isolated.
type Metrics struct {
	scanDuration       prometheus.Histogram
	marketsScanned     prometheus.Counter
	opportunitiesFound prometheus.Counter
	quotesIngested     prometheus.Counter
	quotesDropped      prometheus.Counter
	bankroll           prometheus.Gauge
	tradesRecorded     *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddsarb_scan_duration_seconds",
			Help:    "Duration of a full market scan in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		marketsScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "oddsarb_markets_scanned_total",
			Help: "Cumulative number of markets evaluated by scans",
		}),
		opportunitiesFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "oddsarb_opportunities_found_total",
			Help: "Cumulative number of opportunities accepted into the registry",
		}),
		quotesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "oddsarb_quotes_ingested_total",
			Help: "Cumulative number of quotes accepted into the store",
		}),
		quotesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "oddsarb_quotes_dropped_total",
			Help: "Cumulative number of malformed quote events dropped",
		}),
		bankroll: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oddsarb_bankroll",
			Help: "Current bankroll in account currency",
		}),
		tradesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oddsarb_trades_recorded_total",
			Help: "Settled trades recorded in the ledger",
		}, []string{"outcome"}),
	}
}

// ObserveScan records one completed scan.
func (m *Metrics) ObserveScan(duration time.Duration, marketsScanned, opportunitiesFound int) {
	m.scanDuration.Observe(duration.Seconds())
	m.marketsScanned.Add(float64(marketsScanned))
	m.opportunitiesFound.Add(float64(opportunitiesFound))
}

// QuoteIngested counts one accepted quote event.
func (m *Metrics) QuoteIngested() { m.quotesIngested.Inc() }

// QuoteDropped counts one malformed quote event.
func (m *Metrics) QuoteDropped() { m.quotesDropped.Inc() }

// SetBankroll updates the bankroll gauge.
func (m *Metrics) SetBankroll(v float64) { m.bankroll.Set(v) }

// TradeRecorded counts one settled trade by outcome.
func (m *Metrics) TradeRecorded(outcome string) {
	m.tradesRecorded.WithLabelValues(outcome).Inc()
}
