package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "BINANCE_TESTNET", "JWT_SECRET", "RATE_LIMIT_RPS",
		"JOURNAL_PATH", "CONTROLLERS_CONFIG",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.BinanceTestnet {
		t.Errorf("BinanceTestnet defaults to false, want true")
	}
	if cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("rate limit defaults = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BINANCE_TESTNET", "false")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.BinanceTestnet {
		t.Errorf("BinanceTestnet = true, want false")
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.RateLimitRPS)
	}
}

func TestLoadControllersOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controllers.yaml")
	content := "stop_limit_poll_interval: 2s\ngrid_poll_interval: 30s\nretries: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONTROLLERS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Controllers.StopLimitPollInterval.Std() != 2*time.Second {
		t.Errorf("StopLimitPollInterval = %v, want 2s", cfg.Controllers.StopLimitPollInterval)
	}
	if cfg.Controllers.GridPollInterval.Std() != 30*time.Second {
		t.Errorf("GridPollInterval = %v, want 30s", cfg.Controllers.GridPollInterval)
	}
	if cfg.Controllers.Retries != 5 {
		t.Errorf("Retries = %d, want 5", cfg.Controllers.Retries)
	}
	// OCO knob untouched by the overlay.
	if cfg.Controllers.OCOPollInterval != 0 {
		t.Errorf("OCOPollInterval = %v, want 0", cfg.Controllers.OCOPollInterval)
	}
}

func TestLoadBadOverlayFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controllers.yaml")
	if err := os.WriteFile(path, []byte("retries: [not a number"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONTROLLERS_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted malformed yaml")
	}
}
