// Package config defines the top-level configuration for the odds arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ODDSARB_* environment
// variables.
type Config struct {
	Quotes    QuotesConfig    `toml:"quotes"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Kelly     KellyConfig     `toml:"kelly"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Feed      FeedConfig      `toml:"feed"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// QuotesConfig holds quote store parameters.
type QuotesConfig struct {
	// StaleWindow is how long a market without updates survives before the
	// sweeper evicts it.
	StaleWindow duration `toml:"stale_window"`
}

// ArbitrageConfig holds detector and scanner parameters.
type ArbitrageConfig struct {
	MinProfitMargin float64  `toml:"min_profit_margin"`
	MinOdds         float64  `toml:"min_odds"`
	MaxOdds         float64  `toml:"max_odds"`
	MaxExposure     float64  `toml:"max_exposure"`
	MaxBetDelay     duration `toml:"max_bet_delay"`
	ScanInterval    duration `toml:"scan_interval"`
}

// KellyConfig holds stake sizing parameters.
type KellyConfig struct {
	MinBetSize          float64 `toml:"min_bet_size"`
	MaxBetSize          float64 `toml:"max_bet_size"`
	BaseBetSize         float64 `toml:"base_bet_size"`
	DrawdownLimit       float64 `toml:"drawdown_limit"`
	MinConfidence       float64 `toml:"min_confidence"`
	RiskTolerance       float64 `toml:"risk_tolerance"`
	VolatilityThreshold float64 `toml:"volatility_threshold"`
	RiskFreeRate        float64 `toml:"risk_free_rate"`
	MaxRiskPerTrade     float64 `toml:"max_risk_per_trade"`
	Sizing              string  `toml:"sizing"`
	BankrollMethod      string  `toml:"bankroll_method"`
	PredictionWindow    int     `toml:"prediction_window"`
}

// LedgerConfig holds performance ledger parameters.
type LedgerConfig struct {
	InitialBankroll float64  `toml:"initial_bankroll"`
	SaveTimeout     duration `toml:"save_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// FeedConfig holds odds feed parameters.
type FeedConfig struct {
	WSHost         string   `toml:"ws_host"`
	Markets        []string `toml:"markets"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	CacheTTL       duration `toml:"cache_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	SlackWebhookURL   string   `toml:"slack_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Quotes: QuotesConfig{
			StaleWindow: duration{time.Hour},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitMargin: 0.02,
			MinOdds:         1.1,
			MaxOdds:         10.0,
			MaxExposure:     1000.0,
			MaxBetDelay:     duration{30 * time.Second},
			ScanInterval:    duration{time.Second},
		},
		Kelly: KellyConfig{
			MinBetSize:          0.01,
			MaxBetSize:          0.10,
			BaseBetSize:         0.02,
			DrawdownLimit:       0.20,
			MinConfidence:       0.30,
			RiskTolerance:       0.95,
			VolatilityThreshold: 0.30,
			RiskFreeRate:        0.02,
			MaxRiskPerTrade:     0.05,
			Sizing:              "dynamic",
			BankrollMethod:      "fixed",
			PredictionWindow:    20,
		},
		Ledger: LedgerConfig{
			InitialBankroll: 10_000.0,
			SaveTimeout:     duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsarb",
			User:          "oddsarb",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Feed: FeedConfig{
			ReconnectDelay: duration{2 * time.Second},
			CacheTTL:       duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"arb", "settlement", "drawdown"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. In scan mode the
// engine only detects and records opportunities; full mode adds the advisor,
// settlement consumer, and archiver.
var validModes = map[string]bool{
	"scan": true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSizing = map[string]bool{
	"fixed":    true,
	"dynamic":  true,
	"adaptive": true,
}

var validBankrollMethods = map[string]bool{
	"fixed":       true,
	"progressive": true,
	"adaptive":    true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Quotes
	if c.Quotes.StaleWindow.Duration <= 0 {
		errs = append(errs, "quotes: stale_window must be positive")
	}

	// Arbitrage
	if c.Arbitrage.MinProfitMargin <= 0 || c.Arbitrage.MinProfitMargin >= 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: min_profit_margin must be in (0,1), got %g", c.Arbitrage.MinProfitMargin))
	}
	if c.Arbitrage.MinOdds <= 1.0 {
		errs = append(errs, "arbitrage: min_odds must be > 1.0")
	}
	if c.Arbitrage.MaxOdds <= c.Arbitrage.MinOdds {
		errs = append(errs, "arbitrage: max_odds must exceed min_odds")
	}
	if c.Arbitrage.MaxExposure <= 0 {
		errs = append(errs, "arbitrage: max_exposure must be > 0")
	}
	if c.Arbitrage.MaxBetDelay.Duration <= 0 {
		errs = append(errs, "arbitrage: max_bet_delay must be positive")
	}
	if c.Arbitrage.ScanInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: scan_interval must be positive")
	}

	// Kelly
	if c.Kelly.MinBetSize <= 0 {
		errs = append(errs, "kelly: min_bet_size must be > 0")
	}
	if c.Kelly.MaxBetSize <= c.Kelly.MinBetSize {
		errs = append(errs, "kelly: max_bet_size must exceed min_bet_size")
	}
	if c.Kelly.MaxBetSize > 1 {
		errs = append(errs, "kelly: max_bet_size is a bankroll fraction and must be <= 1")
	}
	if c.Kelly.DrawdownLimit <= 0 || c.Kelly.DrawdownLimit >= 1 {
		errs = append(errs, "kelly: drawdown_limit must be in (0,1)")
	}
	if c.Kelly.MinConfidence < 0 || c.Kelly.MinConfidence > 1 {
		errs = append(errs, "kelly: min_confidence must be in [0,1]")
	}
	if !validSizing[strings.ToLower(c.Kelly.Sizing)] {
		errs = append(errs, fmt.Sprintf("kelly: unknown sizing %q (valid: fixed, dynamic, adaptive)", c.Kelly.Sizing))
	}
	if !validBankrollMethods[strings.ToLower(c.Kelly.BankrollMethod)] {
		errs = append(errs, fmt.Sprintf("kelly: unknown bankroll_method %q (valid: fixed, progressive, adaptive)", c.Kelly.BankrollMethod))
	}
	if c.Kelly.PredictionWindow < 2 {
		errs = append(errs, "kelly: prediction_window must be >= 2")
	}

	// Ledger
	if c.Ledger.InitialBankroll <= 0 {
		errs = append(errs, "ledger: initial_bankroll must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Feed
	if c.Feed.WSHost != "" && c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be positive")
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
