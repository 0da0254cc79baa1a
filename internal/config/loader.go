package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Quotes ──
	setDuration(&cfg.Quotes.StaleWindow, "ODDSARB_QUOTES_STALE_WINDOW")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitMargin, "ODDSARB_ARBITRAGE_MIN_PROFIT_MARGIN")
	setFloat64(&cfg.Arbitrage.MinOdds, "ODDSARB_ARBITRAGE_MIN_ODDS")
	setFloat64(&cfg.Arbitrage.MaxOdds, "ODDSARB_ARBITRAGE_MAX_ODDS")
	setFloat64(&cfg.Arbitrage.MaxExposure, "ODDSARB_ARBITRAGE_MAX_EXPOSURE")
	setDuration(&cfg.Arbitrage.MaxBetDelay, "ODDSARB_ARBITRAGE_MAX_BET_DELAY")
	setDuration(&cfg.Arbitrage.ScanInterval, "ODDSARB_ARBITRAGE_SCAN_INTERVAL")

	// ── Kelly ──
	setFloat64(&cfg.Kelly.MinBetSize, "ODDSARB_KELLY_MIN_BET_SIZE")
	setFloat64(&cfg.Kelly.MaxBetSize, "ODDSARB_KELLY_MAX_BET_SIZE")
	setFloat64(&cfg.Kelly.BaseBetSize, "ODDSARB_KELLY_BASE_BET_SIZE")
	setFloat64(&cfg.Kelly.DrawdownLimit, "ODDSARB_KELLY_DRAWDOWN_LIMIT")
	setFloat64(&cfg.Kelly.MinConfidence, "ODDSARB_KELLY_MIN_CONFIDENCE")
	setFloat64(&cfg.Kelly.RiskTolerance, "ODDSARB_KELLY_RISK_TOLERANCE")
	setFloat64(&cfg.Kelly.VolatilityThreshold, "ODDSARB_KELLY_VOLATILITY_THRESHOLD")
	setFloat64(&cfg.Kelly.RiskFreeRate, "ODDSARB_KELLY_RISK_FREE_RATE")
	setFloat64(&cfg.Kelly.MaxRiskPerTrade, "ODDSARB_KELLY_MAX_RISK_PER_TRADE")
	setStr(&cfg.Kelly.Sizing, "ODDSARB_KELLY_SIZING")
	setStr(&cfg.Kelly.BankrollMethod, "ODDSARB_KELLY_BANKROLL_METHOD")
	setInt(&cfg.Kelly.PredictionWindow, "ODDSARB_KELLY_PREDICTION_WINDOW")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.InitialBankroll, "ODDSARB_LEDGER_INITIAL_BANKROLL")
	setDuration(&cfg.Ledger.SaveTimeout, "ODDSARB_LEDGER_SAVE_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ODDSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ODDSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ODDSARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ODDSARB_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ODDSARB_ARCHIVE_INTERVAL")

	// ── Feed ──
	setStr(&cfg.Feed.WSHost, "ODDSARB_FEED_WS_HOST")
	setStringSlice(&cfg.Feed.Markets, "ODDSARB_FEED_MARKETS")
	setDuration(&cfg.Feed.ReconnectDelay, "ODDSARB_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.CacheTTL, "ODDSARB_FEED_CACHE_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ODDSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ODDSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ODDSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.SlackWebhookURL, "ODDSARB_NOTIFY_SLACK_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ODDSARB_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ODDSARB_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "ODDSARB_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSARB_MODE")
	setStr(&cfg.LogLevel, "ODDSARB_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
