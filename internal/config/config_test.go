package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if !cfg.RatePerView.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("RatePerView = %s, want 0.02", cfg.RatePerView)
	}
	if cfg.StorageDriver != "postgres" {
		t.Fatalf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.Gateway.Timeout != 10*time.Second {
		t.Fatalf("gateway timeout = %v", cfg.Gateway.Timeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_PER_VIEW", "0.025")
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("SWEEP_BATCH_SIZE", "50")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	if !cfg.RatePerView.Equal(decimal.RequireFromString("0.025")) {
		t.Fatalf("RatePerView = %s", cfg.RatePerView)
	}
	if cfg.StorageDriver != "memory" {
		t.Fatalf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.Gateway.Timeout != 3*time.Second || cfg.SweepBatchSize != 50 || cfg.AutoMigrate {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_PER_VIEW", "-1")
	t.Setenv("DB_MAX_CONNS", "lots")
	t.Setenv("ANALYTICS_CACHE_TTL", "soon")

	cfg := Load()

	if !cfg.RatePerView.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("negative rate should fall back, got %s", cfg.RatePerView)
	}
	if cfg.DBMaxConns != 10 || cfg.AnalyticsCacheTTL != time.Minute {
		t.Fatalf("fallbacks not applied: %d %v", cfg.DBMaxConns, cfg.AnalyticsCacheTTL)
	}
	if cfg.SettleGrace != 6*time.Hour {
		t.Fatalf("settle grace = %v", cfg.SettleGrace)
	}
}
