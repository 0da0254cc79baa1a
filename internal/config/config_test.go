package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"margin above one", func(c *Config) { c.Arbitrage.MinProfitMargin = 1.5 }},
		{"min odds at evens", func(c *Config) { c.Arbitrage.MinOdds = 1.0 }},
		{"max below min odds", func(c *Config) { c.Arbitrage.MaxOdds = c.Arbitrage.MinOdds }},
		{"max bet below min", func(c *Config) { c.Kelly.MaxBetSize = c.Kelly.MinBetSize }},
		{"unknown sizing", func(c *Config) { c.Kelly.Sizing = "martingale" }},
		{"zero bankroll", func(c *Config) { c.Ledger.InitialBankroll = 0 }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "scan"

[arbitrage]
min_profit_margin = 0.05
max_bet_delay = "45s"

[redis]
addr = "redis.internal:6379"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ODDSARB_ARBITRAGE_MIN_PROFIT_MARGIN", "0.03")
	t.Setenv("ODDSARB_POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "scan" {
		t.Errorf("mode = %q, want scan", cfg.Mode)
	}
	// Env beats file.
	if cfg.Arbitrage.MinProfitMargin != 0.03 {
		t.Errorf("min_profit_margin = %g, want env override 0.03", cfg.Arbitrage.MinProfitMargin)
	}
	if cfg.Arbitrage.MaxBetDelay.Duration != 45*time.Second {
		t.Errorf("max_bet_delay = %v, want 45s", cfg.Arbitrage.MaxBetDelay.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("postgres password not taken from env")
	}
	// Untouched sections keep defaults.
	if cfg.Kelly.MaxBetSize != 0.10 {
		t.Errorf("kelly max_bet_size = %g, want default 0.10", cfg.Kelly.MaxBetSize)
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	if red.Postgres.Password != "***" || red.Notify.TelegramToken != "***" {
		t.Fatal("secrets not redacted")
	}
	if cfg.Postgres.Password != "secret" {
		t.Fatal("original mutated")
	}
}
