package config

import (
	"testing"

	"stock-sage/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("API_KEY", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SYMBOLS", "")
	t.Setenv("LOOKBACK_DAYS", "")
	t.Setenv("ML_VARIANT", "")

	cfg := Load()
	if cfg.RedisURL != "localhost:6379" {
		t.Fatalf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %s", cfg.HTTPAddr)
	}
	if cfg.LookbackDays != 730 || cfg.BarSyncMinutes != 360 || cfg.TrainHourUTC != 2 {
		t.Fatalf("unexpected schedule defaults: %+v", cfg)
	}
	if cfg.MLVariant != "advanced" || cfg.MLTopK != 30 || cfg.MLMinRows != 260 {
		t.Fatalf("unexpected ML defaults: %+v", cfg)
	}
	if cfg.MLBlendStacked != 0.7 || cfg.MLBlendRegime != 0.3 || cfg.MLWalkForwardFolds != 3 {
		t.Fatalf("unexpected blend defaults: %+v", cfg)
	}
	if len(cfg.Symbols) != len(domain.SupportedSymbols) {
		t.Fatalf("expected the full asset list, got %v", cfg.Symbols)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("API_KEY", "sekrit")
	t.Setenv("LOOKBACK_DAYS", "365")
	t.Setenv("ML_VARIANT", "baseline")
	t.Setenv("ML_TRAIN_FRACTION", "0.75")

	cfg := Load()
	if cfg.DatabaseURL != "postgres://example" || cfg.RedisURL != "redis:6379" || cfg.APIKey != "sekrit" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LookbackDays != 365 || cfg.MLVariant != "baseline" || cfg.MLTrainFraction != 0.75 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("LOOKBACK_DAYS", "bad")
	t.Setenv("ML_VARIANT", "quantum")
	cfg = Load()
	if cfg.LookbackDays != 730 {
		t.Fatalf("invalid lookback should fall back to default, got %d", cfg.LookbackDays)
	}
	if cfg.MLVariant != "advanced" {
		t.Fatalf("invalid variant should fall back to advanced, got %s", cfg.MLVariant)
	}
}

func TestParseSymbols(t *testing.T) {
	t.Setenv("SYMBOLS", "spy, btc ,doge")

	cfg := Load()
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "SPY" || cfg.Symbols[1] != "BTC" {
		t.Fatalf("unexpected symbols: %v", cfg.Symbols)
	}
}
